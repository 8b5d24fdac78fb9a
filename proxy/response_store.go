package proxy

import (
	"sync"

	"chat-bridge/types"
)

// defaultStoredResponses bounds the responses kept for GET /v1/responses/{id}
const defaultStoredResponses = 1000

// responseStore keeps created responses in memory, evicting the oldest once
// full. Responses are lost on restart.
type responseStore struct {
	mu        sync.Mutex
	capacity  int
	responses map[string]*types.Response
	order     []string
}

func newResponseStore(capacity int) *responseStore {
	return &responseStore{
		capacity:  capacity,
		responses: make(map[string]*types.Response),
	}
}

func (s *responseStore) put(resp *types.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.responses[resp.ID]; !ok {
		s.order = append(s.order, resp.ID)
	}
	s.responses[resp.ID] = resp

	for len(s.responses) > s.capacity && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.responses, oldest)
	}
}

func (s *responseStore) get(id string) (*types.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resp, ok := s.responses[id]
	return resp, ok
}

func (s *responseStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.responses[id]; !ok {
		return false
	}
	delete(s.responses, id)
	for i, stored := range s.order {
		if stored == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}
