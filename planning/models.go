// Package planning is the wedding dashboard: the couple's wedding record,
// its task checklist and its expenses.
package planning

import (
	"time"

	"github.com/uptrace/bun"
)

type TaskStatus string

const (
	StatusTodo       TaskStatus = "a_faire"
	StatusInProgress TaskStatus = "en_cours"
	StatusDone       TaskStatus = "termine"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Wedding struct {
	bun.BaseModel `bun:"table:weddings" msgpack:"-"`

	ID         string     `bun:"id,pk" msgpack:"id"`
	UserID     string     `bun:"user_id,notnull" msgpack:"user_id"`
	PartnerOne string     `bun:"partner_one" msgpack:"partner_one"`
	PartnerTwo string     `bun:"partner_two" msgpack:"partner_two"`
	Date       *time.Time `bun:"date" msgpack:"date"`
	Budget     float64    `bun:"budget" msgpack:"budget"`
	Guests     int        `bun:"guests" msgpack:"guests"`
	CreatedAt  time.Time  `bun:"created_at,notnull" msgpack:"created_at"`
}

type Task struct {
	bun.BaseModel `bun:"table:wedding_tasks" msgpack:"-"`

	ID        string     `bun:"id,pk" msgpack:"id"`
	WeddingID string     `bun:"wedding_id,notnull" msgpack:"wedding_id"`
	Title     string     `bun:"title,notnull" msgpack:"title"`
	Category  string     `bun:"category" msgpack:"category"`
	Status    TaskStatus `bun:"status,notnull" msgpack:"status"`
	DueDate   *time.Time `bun:"due_date" msgpack:"due_date"`
	CreatedAt time.Time  `bun:"created_at,notnull" msgpack:"created_at"`
}

func TaskID(t Task) string { return t.ID }

type Expense struct {
	bun.BaseModel `bun:"table:wedding_expenses" msgpack:"-"`

	ID        string    `bun:"id,pk" msgpack:"id"`
	WeddingID string    `bun:"wedding_id,notnull" msgpack:"wedding_id"`
	TaskID    string    `bun:"task_id" msgpack:"task_id"`
	Label     string    `bun:"label,notnull" msgpack:"label"`
	Category  string    `bun:"category" msgpack:"category"`
	Amount    float64   `bun:"amount" msgpack:"amount"`
	Paid      bool      `bun:"paid" msgpack:"paid"`
	CreatedAt time.Time `bun:"created_at,notnull" msgpack:"created_at"`
}

func ExpenseID(e Expense) string { return e.ID }

// BudgetSummary is computed from the loaded wedding and expenses.
type BudgetSummary struct {
	Total      float64
	Committed  float64
	Paid       float64
	Remaining  float64
	TasksDone  int
	TasksTotal int
}
