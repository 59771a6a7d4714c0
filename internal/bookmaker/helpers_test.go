package bookmaker

import (
	"context"
	"sync"
)

type consumption struct {
	accountID string
	requestID int64
}

// memLedger is an in-memory CodeLedger.
type memLedger struct {
	mu       sync.Mutex
	history  map[string][]int64
	consumed map[string]consumption
	released int
}

func newMemLedger() *memLedger {
	return &memLedger{history: map[string][]int64{}, consumed: map[string]consumption{}}
}

func (l *memLedger) addHistory(bookmaker, accountID, code string, requestID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := bookmaker + "|" + accountID + "|" + code
	l.history[key] = append(l.history[key], requestID)
}

func (l *memLedger) PriorUse(_ context.Context, bookmaker, accountID, code string, requestID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range l.history[bookmaker+"|"+accountID+"|"+code] {
		if id != requestID {
			return true, nil
		}
	}
	return false, nil
}

func (l *memLedger) Consume(_ context.Context, bookmaker, accountID, code string, requestID int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := bookmaker + "|" + code
	if _, ok := l.consumed[key]; ok {
		return false, nil
	}
	l.consumed[key] = consumption{accountID: accountID, requestID: requestID}
	return true, nil
}

func (l *memLedger) Release(_ context.Context, bookmaker, code string, requestID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := bookmaker + "|" + code
	if c, ok := l.consumed[key]; ok && c.requestID == requestID {
		delete(l.consumed, key)
		l.released++
	}
	return nil
}

func (l *memLedger) isConsumed(bookmaker, code string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.consumed[bookmaker+"|"+code]
	return ok
}
