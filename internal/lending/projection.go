package lending

import (
	"time"

	"libris/internal/catalog"
)

// View is the history-safe projection of a lending record. It deliberately
// omits the book's quantity, an operational field that means nothing in a
// borrower's history, and carries no credential material for the user.
type View struct {
	ID          int64      `json:"id"`
	Book        BookView   `json:"book"`
	User        UserView   `json:"user"`
	LendingDate time.Time  `json:"lending_date"`
	ReturnDate  *time.Time `json:"return_date,omitempty"`
}

type BookView struct {
	ISBN    string           `json:"isbn"`
	Title   string           `json:"title"`
	Authors []catalog.Author `json:"authors,omitempty"`
}

type UserView struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Project renders a record for consumption outside the workflow. It is a
// pure transform; the record itself is left untouched.
func Project(l *Lending) *View {
	view := &View{
		ID:          l.ID,
		LendingDate: l.LendingDate,
	}
	if l.ReturnDate != nil {
		returnDate := *l.ReturnDate
		view.ReturnDate = &returnDate
	}
	if l.Book != nil {
		view.Book = BookView{
			ISBN:    l.Book.ISBN,
			Title:   l.Book.Title,
			Authors: l.Book.Authors,
		}
	}
	if l.User != nil {
		view.User = UserView{
			ID:    l.User.ID,
			Name:  l.User.Name,
			Email: l.User.Email,
		}
	}
	return view
}
