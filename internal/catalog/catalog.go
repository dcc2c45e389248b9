// Package catalog holds the static per-user task lists and display helpers.
package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperengineering/seventyfive/internal/challenge"
)

// User describes one participant and the tasks they track.
type User struct {
	Key   string   `yaml:"key" json:"key"`
	Name  string   `yaml:"name" json:"name"`
	Tasks []string `yaml:"tasks" json:"tasks"`
}

// Catalog maps user keys to their task lists.
type Catalog struct {
	users []User
	index map[string]int
}

// New builds a catalog. Task names are stored lowercase; later duplicates of a
// user key replace earlier ones.
func New(users []User) *Catalog {
	c := &Catalog{index: make(map[string]int, len(users))}
	for _, u := range users {
		tasks := make([]string, 0, len(u.Tasks))
		for _, t := range u.Tasks {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				tasks = append(tasks, t)
			}
		}
		u.Tasks = tasks
		if i, ok := c.index[u.Key]; ok {
			c.users[i] = u
			continue
		}
		c.index[u.Key] = len(c.users)
		c.users = append(c.users, u)
	}
	return c
}

// Default returns the built-in catalog for the two participants.
func Default() *Catalog {
	return New(DefaultUsers())
}

// DefaultUsers returns the built-in participant definitions.
func DefaultUsers() []User {
	return []User{
		{
			Key:  challenge.User1,
			Name: "Abi",
			Tasks: []string{
				"moisturise",
				"brush teeth (am)",
				"eat healthy",
				"steps",
				"read",
				"workout",
				"brush teeth (pm)",
				"low spend",
			},
		},
		{
			Key:  challenge.User2,
			Name: "Will",
			Tasks: []string{
				"shave",
				"brush teeth",
				"hobby",
				"steps",
				"read",
				"workout",
				"drink",
				"2000 cal",
			},
		},
	}
}

// Users returns the participants in catalog order.
func (c *Catalog) Users() []User {
	out := make([]User, len(c.users))
	copy(out, c.users)
	return out
}

// TasksFor returns the ordered task list for a user key, or nil if unknown.
func (c *Catalog) TasksFor(userKey string) []string {
	i, ok := c.index[userKey]
	if !ok {
		return nil
	}
	return append([]string(nil), c.users[i].Tasks...)
}

// HasTask reports whether task belongs to the user's list.
func (c *Catalog) HasTask(userKey, task string) bool {
	i, ok := c.index[userKey]
	if !ok {
		return false
	}
	for _, t := range c.users[i].Tasks {
		if t == task {
			return true
		}
	}
	return false
}

// DisplayName returns the participant's name, falling back to the key.
func (c *Catalog) DisplayName(userKey string) string {
	if i, ok := c.index[userKey]; ok && c.users[i].Name != "" {
		return c.users[i].Name
	}
	return userKey
}

var specialNames = map[string]string{
	"2000 cal":         "2000 cal",
	"brush teeth (am)": "Brush Teeth (AM)",
	"brush teeth (pm)": "Brush Teeth (PM)",
}

// FormatTaskName capitalizes each word of a task name for display.
func FormatTaskName(name string) string {
	if s, ok := specialNames[name]; ok {
		return s
	}
	words := strings.Split(name, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
