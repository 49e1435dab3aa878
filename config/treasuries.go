// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by LoadTreasuries.
const (
	EnvCron     = "SBE_CRON"     // default schedule for treasuries without one
	EnvPassword = "SBE_PASSWORD" // default key file password variable
)

// DefaultCron checks eligibility every ten minutes.
const DefaultCron = "0 */10 * * * *"

// CronParser accepts the six-field (with seconds) specs the scheduler uses.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Destinations are the payees of the three buckets. Each is a base58
// address or "dns:<domain>".
type Destinations struct {
	Buyback      string `yaml:"buyback"`
	LP           string `yaml:"lp"`
	Distribution string `yaml:"distribution"`
}

// List returns the destinations in bucket order.
func (d Destinations) List() []string {
	return []string{d.Buyback, d.LP, d.Distribution}
}

// Schedule holds the parameters a record is registered with. They are read
// only when the record is first created; later edits do not migrate it.
type Schedule struct {
	MinIntervalSeconds int64  `yaml:"min_interval_seconds"`
	MinAccumulated     uint64 `yaml:"min_accumulated"` // satoshis
	BuybackBPS         uint16 `yaml:"buyback_bps"`
	LPBPS              uint16 `yaml:"lp_bps"`
	DistributionBPS    uint16 `yaml:"distribution_bps"`
}

// Treasury describes one scheduled treasury.
type Treasury struct {
	Name             string       `yaml:"name"`
	Authority        string       `yaml:"authority"` // hex compressed public key
	TreasuryAddress  string       `yaml:"treasury_address"`
	Bump             uint8        `yaml:"bump"`
	AuthorityKeyFile string       `yaml:"authority_key_file"`
	KeyFile          string       `yaml:"key_file"` // treasury spending key
	FeeKeyFile       string       `yaml:"fee_key_file"`
	PasswordEnv      string       `yaml:"password_env"`
	Cron             string       `yaml:"cron"`
	Schedule         Schedule     `yaml:"schedule"`
	Destinations     Destinations `yaml:"destinations"`
}

// Treasuries is the YAML document root.
type Treasuries struct {
	Treasuries []Treasury `yaml:"treasuries"`
}

// LoadTreasuries reads the treasury definitions at path, applies defaults
// and validates them.
func LoadTreasuries(path string) (*Treasuries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read treasuries: %w", err)
	}
	var ts Treasuries
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("config: parse treasuries: %w", err)
	}

	defaultCron := DefaultCron
	if v := os.Getenv(EnvCron); v != "" {
		defaultCron = v
	}
	for i := range ts.Treasuries {
		t := &ts.Treasuries[i]
		if t.Cron == "" {
			t.Cron = defaultCron
		}
		if t.PasswordEnv == "" {
			t.PasswordEnv = EnvPassword
		}
	}

	if err := ts.Validate(); err != nil {
		return nil, err
	}
	return &ts, nil
}

// Validate checks every definition and rejects duplicate names.
func (ts *Treasuries) Validate() error {
	seen := make(map[string]bool, len(ts.Treasuries))
	for i := range ts.Treasuries {
		t := &ts.Treasuries[i]
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate name %q", ErrInvalidTreasury, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Validate checks one definition. Addresses are checked for presence only;
// decoding happens when the runner resolves them.
func (t *Treasury) Validate() error {
	fail := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s: %s", ErrInvalidTreasury, t.Name, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTreasury)
	}
	auth, err := hex.DecodeString(t.Authority)
	if err != nil || len(auth) != 33 {
		return fail("authority must be a 33-byte hex public key")
	}
	if t.TreasuryAddress == "" {
		return fail("treasury_address is required")
	}
	if t.KeyFile == "" || t.FeeKeyFile == "" || t.AuthorityKeyFile == "" {
		return fail("authority_key_file, key_file and fee_key_file are required")
	}
	if _, err := CronParser.Parse(t.Cron); err != nil {
		return fail("cron %q: %v", t.Cron, err)
	}
	if t.Schedule.MinIntervalSeconds < 0 {
		return fail("min_interval_seconds must not be negative")
	}
	if uint32(t.Schedule.BuybackBPS)+uint32(t.Schedule.LPBPS)+uint32(t.Schedule.DistributionBPS) > 10000 {
		return fail("bucket weights exceed 10000 basis points")
	}
	for i, d := range t.Destinations.List() {
		if strings.TrimSpace(d) == "" {
			return fail("destination %d is empty", i)
		}
	}
	return nil
}

// Find returns the treasury named name.
func (ts *Treasuries) Find(name string) (*Treasury, bool) {
	for i := range ts.Treasuries {
		if ts.Treasuries[i].Name == name {
			return &ts.Treasuries[i], true
		}
	}
	return nil, false
}

// AuthorityBytes decodes the authority key. Valid after Validate.
func (t *Treasury) AuthorityBytes() [33]byte {
	var a [33]byte
	b, _ := hex.DecodeString(t.Authority)
	copy(a[:], b)
	return a
}
