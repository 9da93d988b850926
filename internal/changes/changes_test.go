package changes

import "testing"

type row struct{ id int }

func TestTracker_Snapshot(t *testing.T) {
	a, b, c := &row{1}, &row{2}, &row{3}
	tr := NewTracker()
	tr.MarkNew(a)
	tr.MarkDirty(b)
	tr.MarkDeleted(c)

	set := tr.Snapshot()
	if len(set.Added) != 1 || set.Added[0] != a {
		t.Errorf("added: %v", set.Added)
	}
	if len(set.Updated) != 1 || set.Updated[0] != b {
		t.Errorf("updated: %v", set.Updated)
	}
	if len(set.Deleted) != 1 || set.Deleted[0] != c {
		t.Errorf("deleted: %v", set.Deleted)
	}
	if set.Len() != 3 || set.Empty() {
		t.Errorf("Len() = %d", set.Len())
	}
}

func TestTracker_Transitions(t *testing.T) {
	tests := []struct {
		name                    string
		ops                     func(tr *Tracker, r *row)
		added, updated, deleted int
	}{
		{"new then dirty stays new", func(tr *Tracker, r *row) { tr.MarkNew(r); tr.MarkDirty(r) }, 1, 0, 0},
		{"new then deleted is cancelled", func(tr *Tracker, r *row) { tr.MarkNew(r); tr.MarkDeleted(r) }, 0, 0, 0},
		{"dirty then deleted is deleted", func(tr *Tracker, r *row) { tr.MarkDirty(r); tr.MarkDeleted(r) }, 0, 0, 1},
		{"deleted then dirty stays deleted", func(tr *Tracker, r *row) { tr.MarkDeleted(r); tr.MarkDirty(r) }, 0, 0, 1},
		{"duplicates collapse", func(tr *Tracker, r *row) { tr.MarkDirty(r); tr.MarkDirty(r) }, 0, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tt.ops(tr, &row{1})
			set := tr.Snapshot()
			if len(set.Added) != tt.added || len(set.Updated) != tt.updated || len(set.Deleted) != tt.deleted {
				t.Errorf("got added=%d updated=%d deleted=%d", len(set.Added), len(set.Updated), len(set.Deleted))
			}
		})
	}
}

func TestTracker_SnapshotIsIndependent(t *testing.T) {
	tr := NewTracker()
	tr.MarkNew(&row{1})
	set := tr.Snapshot()
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("tracker not reset: %d", tr.Len())
	}
	if len(set.Added) != 1 {
		t.Errorf("snapshot changed after reset: %v", set.Added)
	}
	tr.MarkNew(&row{2})
	if len(set.Added) != 1 {
		t.Errorf("snapshot shares storage with tracker")
	}
}

func TestTracker_PendingOrder(t *testing.T) {
	a, b := &row{1}, &row{2}
	tr := NewTracker()
	tr.MarkDirty(b)
	tr.MarkNew(a)
	var seen []interface{}
	_ = tr.Pending(func(e interface{}, isNew, isDirty, isDeleted bool) error {
		seen = append(seen, e)
		return nil
	})
	if len(seen) != 2 || seen[0] != b || seen[1] != a {
		t.Errorf("pending order: %v", seen)
	}
}

func TestSet_NilIsEmpty(t *testing.T) {
	var s *Set
	if !s.Empty() {
		t.Error("nil set should be empty")
	}
}
