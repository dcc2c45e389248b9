package tracker

import (
	"github.com/hyperengineering/seventyfive/internal/challenge"
	"github.com/hyperengineering/seventyfive/internal/store"
)

func startDatePath() store.Path {
	return store.Path{"startDate"}
}

func entryPath(day int, user string) store.Path {
	return store.Path{"days", challenge.DayKey(day), user}
}

func taskPath(day int, user, task string) store.Path {
	return append(entryPath(day, user), "tasks", task)
}

func weightPath(day int, user string) store.Path {
	return append(entryPath(day, user), "weight")
}

func caloriesPath(day int, user string) store.Path {
	return append(entryPath(day, user), "calories")
}
