package provider

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const defaultWatchInterval = 2 * time.Second

// watcher polls the wallet for account-set and chain changes and dispatches
// them to subscribers. Wallet RPC endpoints have no push channel for these,
// so polling is the notification mechanism.
type watcher struct {
	bridge   *Bridge
	interval time.Duration

	mu           sync.Mutex
	nextID       int
	accountSubs  map[int]func([]common.Address)
	chainSubs    map[int]func(*big.Int)
	lastAccounts []common.Address
	lastChain    *big.Int
	primed       bool
	cancel       context.CancelFunc
}

func newWatcher(b *Bridge) *watcher {
	return &watcher{
		bridge:      b,
		interval:    defaultWatchInterval,
		accountSubs: make(map[int]func([]common.Address)),
		chainSubs:   make(map[int]func(*big.Int)),
	}
}

type watchSub struct {
	w    *watcher
	id   int
	kind string
	once sync.Once
}

func (s *watchSub) Unsubscribe() {
	s.once.Do(func() {
		s.w.mu.Lock()
		defer s.w.mu.Unlock()
		if s.kind == "accounts" {
			delete(s.w.accountSubs, s.id)
		} else {
			delete(s.w.chainSubs, s.id)
		}
	})
}

func (w *watcher) subscribeAccounts(fn func([]common.Address)) Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.accountSubs[w.nextID] = fn
	w.ensureRunning()
	return &watchSub{w: w, id: w.nextID, kind: "accounts"}
}

func (w *watcher) subscribeChain(fn func(*big.Int)) Subscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.chainSubs[w.nextID] = fn
	w.ensureRunning()
	return &watchSub{w: w, id: w.nextID, kind: "chain"}
}

// ensureRunning starts the poll loop on first subscription. Caller holds mu.
func (w *watcher) ensureRunning() {
	if w.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

func (w *watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *watcher) run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *watcher) poll(ctx context.Context) {
	accounts, accErr := w.bridge.Accounts(ctx)
	chainID, chainErr := w.bridge.ChainID(ctx)
	if accErr != nil || chainErr != nil {
		w.bridge.log.Debug("wallet poll failed", map[string]any{
			"accounts_err": accErr, "chain_err": chainErr,
		})
		return
	}

	w.mu.Lock()
	var accountFns []func([]common.Address)
	var chainFns []func(*big.Int)
	if w.primed {
		if !sameAccounts(accounts, w.lastAccounts) {
			for _, fn := range w.accountSubs {
				accountFns = append(accountFns, fn)
			}
		}
		if w.lastChain != nil && chainID.Cmp(w.lastChain) != 0 {
			for _, fn := range w.chainSubs {
				chainFns = append(chainFns, fn)
			}
		}
	}
	w.lastAccounts = accounts
	w.lastChain = chainID
	w.primed = true
	w.mu.Unlock()

	// Dispatch outside the lock: handlers may unsubscribe or re-query.
	for _, fn := range accountFns {
		fn(accounts)
	}
	for _, fn := range chainFns {
		fn(chainID)
	}
}

func sameAccounts(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
