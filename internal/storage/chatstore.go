package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/arshadbarves/reciperage-net/internal/util"
)

// ChatRecord is the on-disk form of a chat message.
type ChatRecord struct {
	ID         string            `json:"id"`
	SenderID   string            `json:"senderId"`
	ReceiverID string            `json:"receiverId"`
	Content    string            `json:"content"`
	SentAt     int64             `json:"sentAt"`
	Read       bool              `json:"read"`
	Kind       string            `json:"kind"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ChatStore persists chat history as one JSON file per peer, plus a shared
// unread-counts file. Files are rewritten in full on every save; in-memory
// state stays authoritative when a write fails.
type ChatStore struct {
	dir string
	mu  sync.Mutex
}

func NewChatStore(dataDir string) (*ChatStore, error) {
	dir := filepath.Join(dataDir, "chat")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chat dir: %w", err)
	}
	return &ChatStore{dir: dir}, nil
}

func (s *ChatStore) historyPath(peerID string) string {
	return filepath.Join(s.dir, sanitizeFileName(peerID)+".json")
}

func (s *ChatStore) unreadPath() string {
	return filepath.Join(s.dir, "unread_counts.json")
}

// SaveHistory rewrites a peer's full message history.
func (s *ChatStore) SaveHistory(peerID string, msgs []ChatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msgs == nil {
		msgs = []ChatRecord{}
	}
	return util.WriteJSONFile(s.historyPath(peerID), msgs)
}

// LoadHistory reads a peer's message history. A missing file yields an
// empty history.
func (s *ChatStore) LoadHistory(peerID string) ([]ChatRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []ChatRecord
	if _, err := util.ReadJSONFile(s.historyPath(peerID), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SaveUnreadCounts rewrites the shared unread-counts file.
func (s *ChatStore) SaveUnreadCounts(counts map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counts == nil {
		counts = map[string]int{}
	}
	return util.WriteJSONFile(s.unreadPath(), counts)
}

// LoadUnreadCounts reads the shared unread-counts file.
func (s *ChatStore) LoadUnreadCounts() (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	if _, err := util.ReadJSONFile(s.unreadPath(), &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// sanitizeFileName keeps peer-ID derived file names path-safe.
func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
