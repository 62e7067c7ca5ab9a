package app

import (
	"log/slog"

	"github.com/utafrali/BookshelfGo/services/review/internal/repository/memory"
)

// Fixed identifiers of the in-memory demo catalog, stable across restarts so
// local clients can bookmark them.
const (
	demoBookID      = "8a1f6c3e-0b0e-4c57-9d7a-3f2b1c0d9e01"
	demoHardcoverID = "8a1f6c3e-0b0e-4c57-9d7a-3f2b1c0d9e02"
	demoPaperbackID = "8a1f6c3e-0b0e-4c57-9d7a-3f2b1c0d9e03"
)

var demoUsers = []memory.User{
	{ID: "5c0a7d1b-6f4e-4d2a-8b3c-1e9f0a2b3c01", DisplayName: "Ada"},
	{ID: "5c0a7d1b-6f4e-4d2a-8b3c-1e9f0a2b3c02", DisplayName: "Grace"},
	{ID: "5c0a7d1b-6f4e-4d2a-8b3c-1e9f0a2b3c03", DisplayName: "Linus"},
}

// seedDemo registers one book with two editions and a few users. The
// catalog is owned by another service; without it the memory backend has
// nothing to review.
func seedDemo(store *memory.Store, logger *slog.Logger) {
	store.AddBook(demoBookID)
	store.AddEdition(demoHardcoverID, demoBookID, "Hardcover")
	store.AddEdition(demoPaperbackID, demoBookID, "Paperback")
	for _, u := range demoUsers {
		store.AddUser(u)
	}

	logger.Info("seeded in-memory demo catalog",
		slog.String("book_id", demoBookID),
		slog.Int("users", len(demoUsers)),
	)
}
