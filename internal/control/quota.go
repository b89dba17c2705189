package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
)

// CPUQuotaProperty is the systemd unit property the quota backend manages.
const CPUQuotaProperty = "CPUQuotaPerSecUSec"

// QuotaUnlimited is the sentinel systemd uses for "no CPU quota".
const QuotaUnlimited uint64 = math.MaxUint64

// DefaultIgnoreUnits keep the login session and the compositor itself out of
// reach when they own a window's pid.
var DefaultIgnoreUnits = []string{
	"session-*.scope",
	"sway*.service",
	"wayland-wm@*.service",
	"*xorg*.service",
	"init.scope",
}

// DefaultThrottledUSec caps a throttled unit at 10% of one CPU.
const DefaultThrottledUSec uint64 = 100000

// Bus selects which systemd instance owns the window processes.
type Bus string

const (
	BusUser   Bus = "user"
	BusSystem Bus = "system"
)

// QuotaConfig configures the quota backend.
type QuotaConfig struct {
	Bus           Bus
	ThrottledUSec uint64
	// IgnoreUnits are path.Match globs of unit names that are never touched.
	IgnoreUnits []string
}

// DefaultQuotaConfig matches the defaults in the config package.
func DefaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		Bus:           BusUser,
		ThrottledUSec: DefaultThrottledUSec,
		IgnoreUnits:   append([]string(nil), DefaultIgnoreUnits...),
	}
}

// Validate checks bus, quota and glob syntax.
func (c QuotaConfig) Validate() error {
	switch c.Bus {
	case BusUser, BusSystem:
	default:
		return fmt.Errorf("unknown bus %q (want user or system)", c.Bus)
	}
	if c.ThrottledUSec == 0 || c.ThrottledUSec == QuotaUnlimited {
		return fmt.Errorf("throttled quota must be between 1 and %d", QuotaUnlimited-1)
	}
	for _, pattern := range c.IgnoreUnits {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("ignore_units: bad pattern %q: %w", pattern, err)
		}
	}
	return nil
}

// systemdConn is the subset of *sddbus.Conn the backend uses.
type systemdConn interface {
	GetUnitNameByPID(ctx context.Context, pid uint32) (string, error)
	GetUnitTypePropertyContext(ctx context.Context, unit string, unitType string, propertyName string) (*sddbus.Property, error)
	SetUnitPropertiesContext(ctx context.Context, name string, runtime bool, properties ...sddbus.Property) error
	Close()
}

// Quota caps the CPU time of the systemd unit that owns a window's process.
// The connection is opened once and shared; godbus serializes writes on it
// and supports concurrent method calls.
type Quota struct {
	cfg  QuotaConfig
	conn systemdConn
}

var _ Controller = (*Quota)(nil)

// NewQuota connects to the configured bus.
func NewQuota(ctx context.Context, cfg QuotaConfig) (*Quota, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		conn *sddbus.Conn
		err  error
	)
	switch cfg.Bus {
	case BusSystem:
		conn, err = sddbus.NewSystemConnectionContext(ctx)
	default:
		conn, err = sddbus.NewUserConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to systemd (%s bus): %w", cfg.Bus, err)
	}
	return newQuota(cfg, conn), nil
}

func newQuota(cfg QuotaConfig, conn systemdConn) *Quota {
	return &Quota{cfg: cfg, conn: conn}
}

func (q *Quota) Name() string { return BackendQuota }

// Current resolves the owning unit and reads its CPU quota.
func (q *Quota) Current(ctx context.Context, t Target) (State, error) {
	unit, unitType, err := q.resolve(ctx, t)
	if err != nil {
		return Unknown, err
	}

	prop, err := q.conn.GetUnitTypePropertyContext(ctx, unit, unitType, CPUQuotaProperty)
	if err != nil {
		if isNoSuchUnit(err) {
			return Unknown, &LookupError{Backend: q.Name(), PID: t.PID, Reason: "unit " + unit + " vanished", Err: err}
		}
		return Unknown, &LookupError{Backend: q.Name(), PID: t.PID, Reason: "read " + CPUQuotaProperty + " of " + unit, Err: err}
	}
	value, ok := prop.Value.Value().(uint64)
	if !ok {
		return Unknown, &LookupError{
			Backend: q.Name(),
			PID:     t.PID,
			Reason:  fmt.Sprintf("%s of %s has signature %s, want t", CPUQuotaProperty, unit, prop.Value.Signature()),
		}
	}
	return q.stateFor(value), nil
}

// Apply resolves the unit again and sets its runtime CPU quota.
func (q *Quota) Apply(ctx context.Context, t Target, s State) error {
	value, err := q.valueFor(s)
	if err != nil {
		return &ApplyError{Backend: q.Name(), PID: t.PID, Op: "set " + CPUQuotaProperty, Err: err}
	}
	unit, _, err := q.resolve(ctx, t)
	if err != nil {
		return err
	}

	prop := sddbus.Property{Name: CPUQuotaProperty, Value: dbus.MakeVariant(value)}
	if err := q.conn.SetUnitPropertiesContext(ctx, unit, true, prop); err != nil {
		if isNoSuchUnit(err) {
			return &LookupError{Backend: q.Name(), PID: t.PID, Reason: "unit " + unit + " vanished", Err: err}
		}
		return &ApplyError{Backend: q.Name(), PID: t.PID, Op: fmt.Sprintf("set %s=%d on %s", CPUQuotaProperty, value, unit), Err: err}
	}
	return nil
}

// GroupKey returns the unit owning t; every pid in a unit shares its quota.
func (q *Quota) GroupKey(ctx context.Context, t Target) (string, error) {
	unit, _, err := q.resolve(ctx, t)
	return unit, err
}

// Close releases the bus connection.
func (q *Quota) Close() error {
	if q.conn != nil {
		q.conn.Close()
	}
	return nil
}

// resolve maps a pid to its unit name and the D-Bus interface suffix that
// carries CPUQuotaPerSecUSec for that unit type.
func (q *Quota) resolve(ctx context.Context, t Target) (string, string, error) {
	if t.PID <= 0 || uint64(t.PID) > math.MaxUint32 {
		return "", "", &LookupError{Backend: q.Name(), PID: t.PID, Reason: "invalid pid"}
	}
	unit, err := q.conn.GetUnitNameByPID(ctx, uint32(t.PID))
	if err != nil {
		return "", "", &LookupError{Backend: q.Name(), PID: t.PID, Reason: "no matching unit", Err: err}
	}
	for _, pattern := range q.cfg.IgnoreUnits {
		if ok, _ := path.Match(pattern, unit); ok {
			return "", "", &LookupError{Backend: q.Name(), PID: t.PID, Reason: "unit " + unit + " is ignored"}
		}
	}
	unitType, ok := unitTypeOf(unit)
	if !ok {
		return "", "", &LookupError{Backend: q.Name(), PID: t.PID, Reason: "unit " + unit + " has no CPU quota"}
	}
	return unit, unitType, nil
}

func (q *Quota) stateFor(value uint64) State {
	switch value {
	case QuotaUnlimited:
		return Unthrottled
	case q.cfg.ThrottledUSec:
		return Throttled
	default:
		return Unknown
	}
}

func (q *Quota) valueFor(s State) (uint64, error) {
	switch s {
	case Unthrottled:
		return QuotaUnlimited, nil
	case Throttled:
		return q.cfg.ThrottledUSec, nil
	default:
		return 0, fmt.Errorf("cannot apply state %s", s)
	}
}

// unitTypeOf returns the systemd interface name for units that carry cgroup
// CPU settings.
func unitTypeOf(unit string) (string, bool) {
	idx := strings.LastIndexByte(unit, '.')
	if idx < 0 {
		return "", false
	}
	switch unit[idx+1:] {
	case "scope":
		return "Scope", true
	case "service":
		return "Service", true
	case "slice":
		return "Slice", true
	case "socket":
		return "Socket", true
	case "mount":
		return "Mount", true
	case "swap":
		return "Swap", true
	default:
		return "", false
	}
}

func isNoSuchUnit(err error) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name == "org.freedesktop.systemd1.NoSuchUnit"
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) && pderr != nil {
		return pderr.Name == "org.freedesktop.systemd1.NoSuchUnit"
	}
	return false
}
