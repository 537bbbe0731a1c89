package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTaskStore_NextIsUniqueUnderConcurrency(t *testing.T) {
	store := NewTaskStore(10)

	const workers, perWorker = 8, 200
	ids := make(chan int, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				ids <- store.Next()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int]bool, workers*perWorker)
	for id := range ids {
		if id <= 0 {
			t.Fatalf("Next() = %d, want positive", id)
		}
		if seen[id] {
			t.Fatalf("Next() returned %d twice", id)
		}
		seen[id] = true
	}
}

func TestTaskStore_EvictsOldest(t *testing.T) {
	store := NewTaskStore(2)
	for i := 1; i <= 3; i++ {
		store.Put(&Task{ID: i, Status: TaskSubmitted})
	}

	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}
	if _, err := store.Get(1); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Get(1) error = %v, want ErrTaskNotFound", err)
	}

	recent := store.Recent(0)
	if len(recent) != 2 || recent[0].ID != 3 || recent[1].ID != 2 {
		t.Errorf("Recent() ids = %v, want [3 2]", taskIDs(recent))
	}
	if got := store.Recent(1); len(got) != 1 || got[0].ID != 3 {
		t.Errorf("Recent(1) ids = %v, want [3]", taskIDs(got))
	}
}

func TestTaskStore_GetReturnsCopy(t *testing.T) {
	store := NewTaskStore(5)
	store.Put(&Task{ID: 1, ChargeBoxIDs: []string{"CP1"}})

	got, err := store.Get(1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.ChargeBoxIDs[0] = "mutated"

	again, _ := store.Get(1)
	if again.ChargeBoxIDs[0] != "CP1" {
		t.Error("mutating a returned task changed the stored task")
	}
}

func TestTaskStore_Report(t *testing.T) {
	store := NewTaskStore(5)
	store.Put(&Task{ID: 7, ChargeBoxIDs: []string{"CP1", "CP2"}, Status: TaskSubmitted})
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	task, err := store.Report(7, "CP1", "Accepted", at)
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if task.Status != TaskSubmitted {
		t.Errorf("Status after one of two reports = %q, want submitted", task.Status)
	}

	task, _ = store.Report(7, "CP2", "Rejected", at)
	if task.Status != TaskFinished || task.FinishedAt == nil || !task.FinishedAt.Equal(at) {
		t.Errorf("task = %+v, want finished at %v", task, at)
	}
	if task.Results["CP2"] != "Rejected" {
		t.Errorf("Results[CP2] = %q, want Rejected", task.Results["CP2"])
	}

	if _, err := store.Report(99, "CP1", "Accepted", at); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Report(unknown) error = %v, want ErrTaskNotFound", err)
	}
}

func taskIDs(tasks []*Task) []int {
	ids := make([]int, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func TestTaskStore_Remove(t *testing.T) {
	store := NewTaskStore(10)
	for i := 1; i <= 3; i++ {
		store.Put(&Task{ID: i})
	}

	store.Remove(2)
	store.Remove(99)

	if store.Len() != 2 {
		t.Errorf("Len() = %d, want 2", store.Len())
	}
	if _, err := store.Get(2); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("Get(2) error = %v, want ErrTaskNotFound", err)
	}
	recent := store.Recent(0)
	if len(recent) != 2 || recent[0].ID != 3 || recent[1].ID != 1 {
		t.Errorf("Recent() ids = %v, want [3 1]", taskIDs(recent))
	}
}
