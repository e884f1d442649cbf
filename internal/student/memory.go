package student

import (
	"context"
	"sync"
)

// MemoryRepository keeps students in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	students map[string]Student
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{students: make(map[string]Student)}
}

func (r *MemoryRepository) Create(_ context.Context, st Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.students[st.StudentID]; ok {
		return ErrExists
	}
	r.students[st.StudentID] = st
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, studentID string) (*Student, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.students[studentID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (r *MemoryRepository) UpdateProfile(_ context.Context, studentID string, u ProfileUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.students[studentID]
	if !ok {
		return false, nil
	}
	if u.Name != nil {
		st.Name = *u.Name
	}
	if u.Email != nil {
		st.Email = *u.Email
	}
	if u.Section != nil {
		st.Section = *u.Section
	}
	if u.ClearSection {
		st.Section = ""
	}
	r.students[studentID] = st
	return true, nil
}

func (r *MemoryRepository) SwapPasswordHash(_ context.Context, studentID, oldHash, newHash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.students[studentID]
	if !ok || st.PasswordHash != oldHash {
		return false, nil
	}
	st.PasswordHash = newHash
	r.students[studentID] = st
	return true, nil
}

func (r *MemoryRepository) SetFaceReference(_ context.Context, studentID, reference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.students[studentID]
	if !ok {
		return false, nil
	}
	st.FaceReference = reference
	r.students[studentID] = st
	return true, nil
}

func (r *MemoryRepository) Names(_ context.Context, studentIDs []string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(studentIDs))
	for _, id := range studentIDs {
		if st, ok := r.students[id]; ok {
			out[id] = st.Name
		}
	}
	return out, nil
}
