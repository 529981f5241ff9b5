// Package manifest loads the declared resource document.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/netdevd/internal/config"
	"github.com/dokzlo13/netdevd/internal/device"
	"github.com/dokzlo13/netdevd/internal/reconcile"
	"github.com/dokzlo13/netdevd/internal/reconcile/iface"
	"github.com/dokzlo13/netdevd/internal/reconcile/radius"
	"github.com/dokzlo13/netdevd/internal/reconcile/servergroup"
	"github.com/dokzlo13/netdevd/internal/reconcile/snmp"
)

// Entry is one declared resource. Kind-specific properties sit next to name
// and ensure in the document.
type Entry[T any] struct {
	Name   string           `yaml:"name"`
	Ensure reconcile.Ensure `yaml:"ensure,omitempty"`
	Props  T                `yaml:",inline"`
}

// Document is the parsed manifest.
type Document struct {
	Interfaces    []Entry[iface.Interface]   `yaml:"network_interfaces"`
	RadiusServers []Entry[radius.Server]     `yaml:"radius_servers"`
	ServerGroups  []Entry[servergroup.Group] `yaml:"radius_server_groups"`
	SNMPReceivers []Entry[snmp.Receiver]     `yaml:"snmp_notification_receivers"`
}

// Counts returns the number of declared resources per kind.
func (d *Document) Counts() map[device.Kind]int {
	return map[device.Kind]int{
		device.KindInterface:         len(d.Interfaces),
		device.KindRadiusServer:      len(d.RadiusServers),
		device.KindRadiusServerGroup: len(d.ServerGroups),
		device.KindSNMPReceiver:      len(d.SNMPReceivers),
	}
}

// Parse decodes a manifest. ${VAR} and ${VAR:default} references are expanded
// first. Unknown keys, unknown ensure values, unnamed and duplicate entries
// are errors, as are declarations rejected by the kind's CheckDeclared.
func Parse(data []byte) (*Document, error) {
	expanded := config.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	if err := checkNames(device.KindInterface, doc.Interfaces); err != nil {
		return nil, err
	}
	if err := checkNames(device.KindRadiusServer, doc.RadiusServers); err != nil {
		return nil, err
	}
	if err := checkNames(device.KindRadiusServerGroup, doc.ServerGroups); err != nil {
		return nil, err
	}
	if err := checkNames(device.KindSNMPReceiver, doc.SNMPReceivers); err != nil {
		return nil, err
	}

	if err := checkDeclared(device.KindInterface, doc.Interfaces, iface.CheckDeclared); err != nil {
		return nil, err
	}
	if err := checkDeclared(device.KindRadiusServer, doc.RadiusServers, radius.CheckDeclared); err != nil {
		return nil, err
	}
	if err := checkDeclared(device.KindSNMPReceiver, doc.SNMPReceivers, snmp.CheckDeclared); err != nil {
		return nil, err
	}
	return &doc, nil
}

// checkDeclared runs a kind's declaration check on every present entry, so a
// declaration that can never settle fails the load instead of every cycle.
func checkDeclared[T any](kind device.Kind, entries []Entry[T], check func(T) error) error {
	for _, e := range entries {
		if e.Ensure == reconcile.EnsureAbsent {
			continue
		}
		if err := check(e.Props); err != nil {
			var ve *reconcile.ValidationError
			if errors.As(err, &ve) {
				ve.Kind, ve.Name = kind, e.Name
			}
			return err
		}
	}
	return nil
}

func checkNames[T any](kind device.Kind, entries []Entry[T]) error {
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.Name == "" {
			return fmt.Errorf("%s entry %d: missing name", kind, i)
		}
		if seen[e.Name] {
			return fmt.Errorf("%s %q declared more than once", kind, e.Name)
		}
		seen[e.Name] = true
	}
	return nil
}

// LoadFile reads and parses the manifest at path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func desired[T any](entries []Entry[T]) []reconcile.Desired[T] {
	out := make([]reconcile.Desired[T], 0, len(entries))
	for _, e := range entries {
		out = append(out, reconcile.Desired[T]{Name: e.Name, Ensure: e.Ensure, Props: e.Props})
	}
	return out
}

// Source serves declared resources to the engines. The document is swapped
// only after a successful Reload.
type Source struct {
	path string

	mu  sync.RWMutex
	doc *Document
}

// NewSource creates a source backed by the file at path.
func NewSource(path string) *Source {
	return &Source{path: path, doc: &Document{}}
}

// NewStaticSource creates a source that always serves doc.
func NewStaticSource(doc *Document) *Source {
	return &Source{doc: doc}
}

// Reload re-reads the manifest file. On failure the previous document is kept
// and the error is returned.
func (s *Source) Reload(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	doc, err := LoadFile(s.path)
	if err != nil {
		return fmt.Errorf("load manifest %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	counts := doc.Counts()
	log.Debug().
		Str("path", s.path).
		Int("interfaces", counts[device.KindInterface]).
		Int("radius_servers", counts[device.KindRadiusServer]).
		Int("server_groups", counts[device.KindRadiusServerGroup]).
		Int("snmp_receivers", counts[device.KindSNMPReceiver]).
		Msg("Manifest loaded")
	return nil
}

// Document returns the current document.
func (s *Source) Document() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

func (s *Source) Interfaces(ctx context.Context) ([]reconcile.Desired[iface.Interface], error) {
	return desired(s.Document().Interfaces), nil
}

func (s *Source) RadiusServers(ctx context.Context) ([]reconcile.Desired[radius.Server], error) {
	return desired(s.Document().RadiusServers), nil
}

func (s *Source) ServerGroups(ctx context.Context) ([]reconcile.Desired[servergroup.Group], error) {
	return desired(s.Document().ServerGroups), nil
}

func (s *Source) SNMPReceivers(ctx context.Context) ([]reconcile.Desired[snmp.Receiver], error) {
	return desired(s.Document().SNMPReceivers), nil
}
