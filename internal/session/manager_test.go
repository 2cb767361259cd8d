package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/echogram/echogram/internal/config"
	"github.com/echogram/echogram/internal/store"
	"github.com/echogram/echogram/internal/tokens"
)

func testEnv(t *testing.T, maxTurns, maxTokens int) (*config.Manager, store.Store) {
	t.Helper()
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "echogram.toml")
	content := fmt.Sprintf(
		"[telegram]\nbot_token = \"t\"\n\n[access]\nadmin_id = 1\n\n[session]\nmax_turns = %d\nmax_tokens = %d\n",
		maxTurns, maxTokens)
	if err := os.WriteFile(cfgPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatal(err)
	}

	db, err := store.New(store.Config{Path: filepath.Join(dir, "test.db"), WALMode: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return mgr, db
}

// appendExchange appends one user/assistant pair with distinct timestamps
func appendExchange(t *testing.T, m *Manager, chatID int64, i int) {
	t.Helper()
	base := time.Now().Add(time.Duration(i) * 10 * time.Millisecond)
	user := Turn{
		ID:        fmt.Sprintf("u-%d", i),
		Role:      RoleUser,
		Content:   fmt.Sprintf("question %d", i),
		CreatedAt: base,
	}
	assistant := Turn{
		ID:        fmt.Sprintf("a-%d", i),
		Role:      RoleAssistant,
		Content:   fmt.Sprintf("answer %d", i),
		CreatedAt: base.Add(time.Millisecond),
	}
	if err := m.Append(context.Background(), chatID, user, assistant); err != nil {
		t.Fatalf("append %d: %v", i, err)
	}
}

func TestWindowStartsEmpty(t *testing.T) {
	cfg, db := testEnv(t, 10, 0)
	m := NewManager(cfg, db)

	window, err := m.Window(context.Background(), 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 0 {
		t.Errorf("fresh chat window has %d turns, want 0", len(window))
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	cfg, db := testEnv(t, 10, 0)
	m := NewManager(cfg, db)
	ctx := context.Background()

	if _, err := m.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		appendExchange(t, m, 1, i)
	}

	window, err := m.Window(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 6 {
		t.Fatalf("window has %d turns, want 6", len(window))
	}
	want := []string{"u-0", "a-0", "u-1", "a-1", "u-2", "a-2"}
	for i, id := range want {
		if window[i].ID != id {
			t.Errorf("window[%d] = %s, want %s", i, window[i].ID, id)
		}
	}
}

func TestTurnBoundEvictsOldestFirst(t *testing.T) {
	cfg, db := testEnv(t, 10, 0)
	m := NewManager(cfg, db)
	ctx := context.Background()

	if _, err := m.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}
	// 25 exchanges, 50 turns total, window bound is 10
	for i := 0; i < 25; i++ {
		appendExchange(t, m, 1, i)
	}

	window, err := m.Window(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 10 {
		t.Fatalf("window has %d turns, want 10", len(window))
	}
	// Only the newest 10 remain, in order
	if window[0].ID != "u-20" || window[9].ID != "a-24" {
		t.Errorf("window spans %s..%s, want u-20..a-24", window[0].ID, window[9].ID)
	}

	// The full history is still in the store
	count, err := db.CountTurns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 50 {
		t.Errorf("stored %d turns, want 50", count)
	}
}

func TestTokenBoundEvicts(t *testing.T) {
	cfg, db := testEnv(t, 0, 50)
	m := NewManager(cfg, db)
	ctx := context.Background()

	if _, err := m.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}

	// Each turn is far over 50 tokens under any estimator, so eviction
	// runs down to the single newest turn.
	big := strings.Repeat("alpha beta gamma delta ", 50)
	for i := 0; i < 3; i++ {
		turn := Turn{
			ID:        fmt.Sprintf("big-%d", i),
			Role:      RoleUser,
			Content:   big,
			CreatedAt: time.Now().Add(time.Duration(i) * 10 * time.Millisecond),
		}
		if err := m.Append(ctx, 1, turn); err != nil {
			t.Fatal(err)
		}
	}

	window, err := m.Window(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 1 {
		t.Fatalf("window has %d turns, want 1", len(window))
	}
	if window[0].ID != "big-2" {
		t.Errorf("survivor is %s, want the newest turn big-2", window[0].ID)
	}
}

func TestOversizedNewestTurnTruncatedForPrompting(t *testing.T) {
	cfg, db := testEnv(t, 0, 50)
	m := NewManager(cfg, db)
	ctx := context.Background()

	if _, err := m.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}

	big := strings.Repeat("alpha beta gamma delta ", 50)
	turn := Turn{ID: "huge", Role: RoleUser, Content: big, CreatedAt: time.Now()}
	if err := m.Append(ctx, 1, turn); err != nil {
		t.Fatal(err)
	}

	window, err := m.Window(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 1 {
		t.Fatalf("window has %d turns, want 1", len(window))
	}
	if len(window[0].Content) >= len(big) {
		t.Error("oversized turn content was not truncated for prompting")
	}
	if got := tokens.Get().Count(window[0].Content); got > 50 {
		t.Errorf("truncated content is %d tokens, budget is 50", got)
	}

	// The stored turn keeps its full content
	stored, err := db.RecentTurns(ctx, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].Content != big {
		t.Error("stored turn content should be untouched by prompt truncation")
	}
}

func TestClearEmptiesWindowAndStore(t *testing.T) {
	cfg, db := testEnv(t, 10, 0)
	m := NewManager(cfg, db)
	ctx := context.Background()

	if _, err := m.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		appendExchange(t, m, 1, i)
	}

	if err := m.Clear(ctx, 1); err != nil {
		t.Fatal(err)
	}

	window, err := m.Window(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 0 {
		t.Errorf("window has %d turns after clear, want 0", len(window))
	}

	count, err := db.CountTurns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("store has %d turns after clear, want 0", count)
	}

	// The session row survives so the chat keeps its identity
	if _, err := db.GetSession(ctx, 1); err != nil {
		t.Errorf("session row should survive clear: %v", err)
	}
}

func TestWindowRebuiltAfterRestart(t *testing.T) {
	cfg, db := testEnv(t, 4, 0)
	ctx := context.Background()

	m1 := NewManager(cfg, db)
	if _, err := m1.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		appendExchange(t, m1, 1, i)
	}

	// A fresh manager over the same store simulates a restart
	m2 := NewManager(cfg, db)
	window, err := m2.Window(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 4 {
		t.Fatalf("rebuilt window has %d turns, want 4", len(window))
	}
	want := []string{"u-3", "a-3", "u-4", "a-4"}
	for i, id := range want {
		if window[i].ID != id {
			t.Errorf("window[%d] = %s, want %s", i, window[i].ID, id)
		}
	}
}

func TestReplyContextSurvivesRestart(t *testing.T) {
	cfg, db := testEnv(t, 10, 0)
	ctx := context.Background()

	m1 := NewManager(cfg, db)
	if _, err := m1.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}
	turn := Turn{
		ID:        "quoted",
		Role:      RoleUser,
		Content:   "yes",
		ReplyTo:   "should I deploy?",
		CreatedAt: time.Now(),
	}
	if err := m1.Append(ctx, 1, turn); err != nil {
		t.Fatal(err)
	}

	m2 := NewManager(cfg, db)
	window, err := m2.Window(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 1 || window[0].ReplyTo != "should I deploy?" {
		t.Errorf("rebuilt window lost reply context: %+v", window)
	}
}

func TestChatsAreIndependent(t *testing.T) {
	cfg, db := testEnv(t, 10, 0)
	m := NewManager(cfg, db)
	ctx := context.Background()

	if _, err := m.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Window(ctx, 2, "group"); err != nil {
		t.Fatal(err)
	}

	appendExchange(t, m, 1, 0)
	appendExchange(t, m, 2, 0)
	if err := m.Clear(ctx, 1); err != nil {
		t.Fatal(err)
	}

	w1, err := m.Window(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	w2, err := m.Window(ctx, 2, "group")
	if err != nil {
		t.Fatal(err)
	}
	if len(w1) != 0 {
		t.Errorf("chat 1 window has %d turns after clear, want 0", len(w1))
	}
	if len(w2) != 2 {
		t.Errorf("chat 2 window has %d turns, want 2", len(w2))
	}
}

func TestInfo(t *testing.T) {
	cfg, db := testEnv(t, 4, 0)
	m := NewManager(cfg, db)
	ctx := context.Background()

	if _, err := m.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		appendExchange(t, m, 1, i)
	}

	info, err := m.Info(ctx, 1, "private")
	if err != nil {
		t.Fatal(err)
	}
	if info.WindowTurns != 4 {
		t.Errorf("WindowTurns = %d, want 4", info.WindowTurns)
	}
	if info.StoredTurns != 10 {
		t.Errorf("StoredTurns = %d, want 10", info.StoredTurns)
	}
	if info.MaxTurns != 4 {
		t.Errorf("MaxTurns = %d, want 4", info.MaxTurns)
	}
}

func TestSnapshotNeverOverBound(t *testing.T) {
	cfg, db := testEnv(t, 4, 0)
	m := NewManager(cfg, db)
	ctx := context.Background()

	if _, err := m.Window(ctx, 1, "private"); err != nil {
		t.Fatal(err)
	}

	// Readers poll while appends run; append and eviction share one
	// critical section, so no snapshot may exceed the bound.
	quit := make(chan struct{})
	var wg sync.WaitGroup
	var readErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-quit:
				return
			default:
			}
			w, err := m.Window(ctx, 1, "private")
			if err != nil {
				readErr = err
				return
			}
			if len(w) > 4 {
				readErr = fmt.Errorf("snapshot saw %d turns, bound is 4", len(w))
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		appendExchange(t, m, 1, i)
	}

	close(quit)
	wg.Wait()
	if readErr != nil {
		t.Fatal(readErr)
	}
}

func TestLockChatSerializes(t *testing.T) {
	cfg, db := testEnv(t, 10, 0)
	m := NewManager(cfg, db)

	unlock := m.LockChat(1)

	acquired := make(chan struct{})
	go func() {
		u := m.LockChat(1)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second LockChat acquired while first still held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second LockChat never acquired after unlock")
	}
}
