package discovery

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"ThreadMR/internal/logger"
)

// SeedName is the member that stands for the coordinator. Workers join
// through it and it is the roster's view of the pool.
const SeedName = "coordinator"

// EventDelegate implements memberlist.EventDelegate for the seed member
type EventDelegate struct {
	roster *Roster
}

func (ed *EventDelegate) NotifyJoin(node *memberlist.Node) {
	ed.roster.handleJoin(node)
}

func (ed *EventDelegate) NotifyLeave(node *memberlist.Node) {
	ed.roster.handleLeave(node)
}

func (ed *EventDelegate) NotifyUpdate(node *memberlist.Node) {
	ed.roster.logger.Debug("Member updated: name=%s address=%s", node.Name, node.Address())
}

// Roster tracks the worker pool of one job with memberlist gossip running on
// an in-memory network.
type Roster struct {
	network    *memberlist.MockNetwork
	transports map[string]*memberlist.MockTransport
	seed       *memberlist.Memberlist
	logger     *logger.Logger

	mu      sync.RWMutex
	members map[string]string // name -> address, as seen by the seed
	joined  map[string]*Member
	onJoin  func(name string)
	onLeave func(name string)
}

// Member is one worker's handle on the roster.
type Member struct {
	name   string
	list   *memberlist.Memberlist
	roster *Roster
}

// NewRoster prepares a roster for the given worker names and starts the seed.
// Every transport is created up front: MockNetwork does not guard its
// address tables, so none may be added once gossip is running.
func NewRoster(names []string, lg *logger.Logger) (*Roster, error) {
	if lg == nil {
		lg = logger.New("INFO").Named("roster")
	}

	r := &Roster{
		network:    &memberlist.MockNetwork{},
		transports: make(map[string]*memberlist.MockTransport, len(names)+1),
		logger:     lg,
		members:    make(map[string]string),
		joined:     make(map[string]*Member),
	}

	r.transports[SeedName] = r.network.NewTransport(SeedName)
	for _, name := range names {
		if _, dup := r.transports[name]; dup {
			return nil, fmt.Errorf("duplicate roster member %q", name)
		}
		r.transports[name] = r.network.NewTransport(name)
	}

	cfg := r.config(SeedName)
	cfg.Events = &EventDelegate{roster: r}

	seed, err := memberlist.Create(cfg)
	if err != nil {
		lg.Error("Failed to create roster seed: %v", err)
		return nil, fmt.Errorf("failed to create roster seed: %w", err)
	}
	r.seed = seed

	lg.Info("Roster initialized: seed=%s address=%s slots=%d", SeedName, seed.LocalNode().Address(), len(names))
	return r, nil
}

func (r *Roster) config(name string) *memberlist.Config {
	cfg := memberlist.DefaultLocalConfig()
	cfg.Name = name
	cfg.Transport = r.transports[name]
	cfg.RetransmitMult = 3
	cfg.ProbeInterval = 1 * time.Second
	cfg.ProbeTimeout = 500 * time.Millisecond
	cfg.GossipInterval = 200 * time.Millisecond
	cfg.GossipNodes = 3
	cfg.LogOutput = r.logger.Named(name).Writer()
	return cfg
}

// Join starts the member called name and joins it to the seed.
func (r *Roster) Join(name string) (*Member, error) {
	if name == SeedName {
		return nil, fmt.Errorf("%q is reserved for the roster seed", name)
	}
	if _, ok := r.transports[name]; !ok {
		return nil, fmt.Errorf("no roster slot for %q", name)
	}

	r.mu.Lock()
	if _, ok := r.joined[name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("member %q already joined", name)
	}
	m := &Member{name: name, roster: r}
	r.joined[name] = m
	r.mu.Unlock()

	list, err := memberlist.Create(r.config(name))
	if err != nil {
		r.forget(name)
		return nil, fmt.Errorf("failed to create member %s: %w", name, err)
	}
	r.mu.Lock()
	m.list = list
	r.mu.Unlock()

	if _, err := list.Join([]string{r.seed.LocalNode().Address()}); err != nil {
		list.Shutdown()
		r.forget(name)
		return nil, fmt.Errorf("failed to join roster: %w", err)
	}

	r.logger.Debug("Member joined roster: name=%s known=%d", name, list.NumMembers())
	return m, nil
}

// forget drops name from the joined set and reports whether it was there.
func (r *Roster) forget(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.joined[name]
	delete(r.joined, name)
	return ok
}

// Name returns the member's name
func (m *Member) Name() string {
	return m.name
}

// Leave announces the member's departure and stops it. After the roster
// has been shut down it does nothing.
func (m *Member) Leave(timeout time.Duration) error {
	if !m.roster.forget(m.name) {
		return nil
	}
	if err := m.list.Leave(timeout); err != nil {
		m.list.Shutdown()
		return fmt.Errorf("failed to leave roster: %w", err)
	}
	return m.list.Shutdown()
}

// Members returns the workers the seed currently sees as alive, sorted.
func (r *Roster) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NumMembers returns the number of workers the seed sees as alive
func (r *Roster) NumMembers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// WaitForMembers polls until the seed sees at least n workers. The seed
// learns about a joiner only after answering its push/pull, so a
// successful Join does not mean the seed has merged it yet.
func (r *Roster) WaitForMembers(n int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if r.NumMembers() >= n {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}

	return fmt.Errorf("roster has %d of %d members after %s", r.NumMembers(), n, timeout)
}

// RegisterJoinCallback registers a callback for when workers join
func (r *Roster) RegisterJoinCallback(callback func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onJoin = callback
}

// RegisterLeaveCallback registers a callback for when workers leave
func (r *Roster) RegisterLeaveCallback(callback func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLeave = callback
}

func (r *Roster) handleJoin(node *memberlist.Node) {
	if node.Name == SeedName {
		return
	}

	r.mu.Lock()
	r.members[node.Name] = node.Address()
	callback := r.onJoin
	r.mu.Unlock()

	r.logger.Info("Worker joined: name=%s address=%s", node.Name, node.Address())

	if callback != nil {
		callback(node.Name)
	}
}

func (r *Roster) handleLeave(node *memberlist.Node) {
	if node.Name == SeedName {
		return
	}

	r.mu.Lock()
	delete(r.members, node.Name)
	callback := r.onLeave
	r.mu.Unlock()

	r.logger.Info("Worker left: name=%s", node.Name)

	if callback != nil {
		callback(node.Name)
	}
}

// Shutdown stops the seed and any member that never left.
func (r *Roster) Shutdown() error {
	r.mu.Lock()
	left := make([]*memberlist.Memberlist, 0, len(r.joined))
	for _, m := range r.joined {
		if m.list != nil {
			left = append(left, m.list)
		}
	}
	r.joined = make(map[string]*Member)
	r.mu.Unlock()

	for _, list := range left {
		list.Shutdown()
	}
	return r.seed.Shutdown()
}
