package hnswdb

import "sync"


//============================================= Process Environment


// AppEnv holds process-wide, rarely-changing state: the shared node pool,
// the effective config, and a name-keyed registry of open Store instances,
// mirroring the original's vector_store_map. It exists for callers that want
// a single ambient instance without threading one through every call; every
// Store method still takes its dependencies through an explicit receiver,
// so AppEnv is an opt-in convenience, not a hidden dependency of the store's
// own API -- OpenStore/Close keep the registry current as a side effect, but
// nothing in Store.go reads back from it.
type AppEnv struct {
	Config Config
	NodePool *NodePool

	mu sync.Mutex
	stores map[string]*Store
}

var getAppEnvOnce = sync.OnceValue(func() *AppEnv {
	cfg := DefaultConfig()
	return &AppEnv{
		Config: cfg,
		NodePool: NewNodePool(cfg.NodePoolSize),
		stores: make(map[string]*Store),
	}
})

// GetAppEnv returns the process-wide AppEnv, constructing it on first call.
func GetAppEnv() *AppEnv { return getAppEnvOnce() }

// RegisterStore records store under its name, so a later LookupStore call
// elsewhere in the process finds the same open handle instead of reopening
// its directory. OpenStore calls this once the store is ready.
func (env *AppEnv) RegisterStore(store *Store) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.stores[store.Name] = store
}

// LookupStore returns the open store registered under name, if any.
func (env *AppEnv) LookupStore(name string) (*Store, bool) {
	env.mu.Lock()
	defer env.mu.Unlock()
	store, ok := env.stores[name]
	return store, ok
}

// UnregisterStore removes name from the registry. Store.Close calls this so
// a closed store stops showing up in LookupStore.
func (env *AppEnv) UnregisterStore(name string) {
	env.mu.Lock()
	defer env.mu.Unlock()
	delete(env.stores, name)
}
