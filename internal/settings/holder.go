package settings

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/smallbiznis/primerouter/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type snapshot struct {
	organizations []Organization
	orgs          map[string]int
	senders       map[string]Sender
	receivers     map[string]Receiver
}

// Holder keeps the latest validated settings and swaps them atomically when
// the backing file changes.
type Holder struct {
	current atomic.Value // holds *snapshot
}

// NewHolder reads settings.yml from the configured search paths and watches it
// for changes. An invalid reload is logged and ignored.
func NewHolder(cfg config.Config, log *zap.Logger) (*Holder, error) {
	log = log.Named("settings.holder")

	v := viper.New()
	name := strings.TrimSpace(cfg.Settings.Name)
	if name == "" {
		name = "settings"
	}
	v.SetConfigName(name)
	v.SetConfigType("yml")
	for _, path := range cfg.Settings.Paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("PRIMEROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	snap, err := load(v)
	if err != nil {
		return nil, err
	}

	holder := &Holder{}
	holder.current.Store(snap)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := load(v)
		if err != nil {
			log.Warn("settings reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("settings reloaded",
			zap.String("file", e.Name),
			zap.Int("organizations", len(updated.organizations)),
		)
	})

	log.Info("settings loaded",
		zap.String("file", v.ConfigFileUsed()),
		zap.Int("organizations", len(snap.organizations)),
	)
	return holder, nil
}

// NewStaticHolder builds a holder from in-memory organizations.
func NewStaticHolder(orgs []Organization) (*Holder, error) {
	snap, err := build(orgs)
	if err != nil {
		return nil, err
	}
	holder := &Holder{}
	holder.current.Store(snap)
	return holder, nil
}

func load(v *viper.Viper) (*snapshot, error) {
	var orgs []Organization
	if err := v.UnmarshalKey("organizations", &orgs); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return build(orgs)
}

func build(orgs []Organization) (*snapshot, error) {
	if len(orgs) == 0 {
		return nil, ErrEmptyOrganizations
	}

	snap := &snapshot{
		organizations: make([]Organization, 0, len(orgs)),
		orgs:          make(map[string]int, len(orgs)),
		senders:       map[string]Sender{},
		receivers:     map[string]Receiver{},
	}
	for _, org := range orgs {
		org.Name = strings.TrimSpace(org.Name)
		if org.Name == "" {
			return nil, ErrInvalidOrganization
		}
		if _, exists := snap.orgs[org.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrganization, org.Name)
		}

		for i := range org.Senders {
			sender := &org.Senders[i]
			sender.OrganizationName = org.Name
			if strings.TrimSpace(sender.Name) == "" || !sender.Topic.Valid() {
				return nil, fmt.Errorf("%w: %s", ErrInvalidSender, sender.FullName())
			}
			if sender.Format == "" {
				sender.Format = FormatCSV
			}
			snap.senders[sender.FullName()] = *sender
		}
		for i := range org.Receivers {
			receiver := &org.Receivers[i]
			receiver.OrganizationName = org.Name
			if strings.TrimSpace(receiver.Name) == "" || !receiver.Topic.Valid() {
				return nil, fmt.Errorf("%w: %s", ErrInvalidReceiver, receiver.FullName())
			}
			snap.receivers[receiver.FullName()] = *receiver
		}

		snap.orgs[org.Name] = len(snap.organizations)
		snap.organizations = append(snap.organizations, org)
	}
	return snap, nil
}

func (h *Holder) get() *snapshot {
	return h.current.Load().(*snapshot)
}

func (h *Holder) Organizations() []Organization {
	orgs := h.get().organizations
	out := make([]Organization, len(orgs))
	copy(out, orgs)
	return out
}

func (h *Holder) FindOrganization(name string) (*Organization, bool) {
	snap := h.get()
	idx, ok := snap.orgs[strings.TrimSpace(name)]
	if !ok {
		return nil, false
	}
	org := snap.organizations[idx]
	return &org, true
}

func (h *Holder) FindSender(fullName string) (*Sender, bool) {
	org, svc := SplitFullName(fullName)
	sender, ok := h.get().senders[org+"."+svc]
	if !ok {
		return nil, false
	}
	return &sender, true
}

func (h *Holder) FindReceiver(fullName string) (*Receiver, bool) {
	receiver, ok := h.get().receivers[strings.TrimSpace(fullName)]
	if !ok {
		return nil, false
	}
	return &receiver, true
}

func (h *Holder) FindOrganizationAndReceiver(fullName string) (*Organization, *Receiver, bool) {
	orgName, _ := SplitFullName(fullName)
	org, ok := h.FindOrganization(orgName)
	if !ok {
		return nil, nil, false
	}
	receiver, ok := h.FindReceiver(fullName)
	if !ok {
		return org, nil, false
	}
	return org, receiver, true
}

// ReceiversForTopic lists active receivers subscribed to the topic in
// settings order.
func (h *Holder) ReceiversForTopic(topic Topic) []Receiver {
	var out []Receiver
	for _, org := range h.get().organizations {
		for _, receiver := range org.Receivers {
			if receiver.Topic == topic && receiver.Active() {
				out = append(out, receiver)
			}
		}
	}
	return out
}

var _ Provider = (*Holder)(nil)
