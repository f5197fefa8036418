package config

import (
	"fmt"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/plenum-labs/plenum/pkg/contracts"
)

// profileVersions is the range of profile schema versions this build
// understands. Bump the major bound when the profile shape changes
// incompatibly.
const profileVersions = "^1.0"

// Duration wraps time.Duration with YAML support for strings like "48h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PhaseSettings are the per-phase governance defaults.
type PhaseSettings struct {
	// DefaultDuration sets the deadline computed on phase entry.
	// Zero means the phase has no deadline.
	DefaultDuration Duration `yaml:"default_duration"`
	// MinDuration is a hard floor on time-in-phase for automatic exit,
	// independent of DefaultDuration.
	MinDuration               Duration `yaml:"min_duration"`
	RequiresManualProgression bool     `yaml:"requires_manual_progression"`
	AllowedExtensions         int      `yaml:"allowed_extensions"`
	ExtensionDuration         Duration `yaml:"extension_duration"`
	MinParticipants           int      `yaml:"min_participants"`
	ConsensusThreshold        float64  `yaml:"consensus_threshold"`
	RequiredRoles             []string `yaml:"required_roles,omitempty"`
	// Gate is an optional CEL expression evaluated as an extra condition
	// on every transition leaving this phase.
	Gate string `yaml:"gate,omitempty"`
}

// Profile is the immutable phase-governance configuration, constructed once
// at startup and injected into the phase engine. No runtime mutation.
type Profile struct {
	Version        string                            `yaml:"version"`
	EligibleVoters int                               `yaml:"eligible_voters"`
	Phases         map[contracts.Phase]PhaseSettings `yaml:"phases"`
}

// Phase returns the settings for a phase, zero-valued when unconfigured.
func (p *Profile) Phase(ph contracts.Phase) PhaseSettings {
	return p.Phases[ph]
}

// ConsensusThreshold returns the voting phase's threshold, defaulting to 0.7.
func (p *Profile) ConsensusThreshold() float64 {
	if t := p.Phases[contracts.PhaseVoting].ConsensusThreshold; t > 0 {
		return t
	}
	return 0.7
}

// DefaultProfile returns the built-in governance defaults: 48h discussion
// with a 12h floor and 3 participants, 72h voting with a 5-ballot quorum at
// a 70% consensus threshold.
func DefaultProfile() *Profile {
	return &Profile{
		Version:        "1.0.0",
		EligibleVoters: 0,
		Phases: map[contracts.Phase]PhaseSettings{
			contracts.PhaseProposal: {
				RequiresManualProgression: true,
			},
			contracts.PhaseDiscussion: {
				DefaultDuration:   Duration(48 * time.Hour),
				MinDuration:       Duration(12 * time.Hour),
				MinParticipants:   3,
				AllowedExtensions: 2,
				ExtensionDuration: Duration(24 * time.Hour),
			},
			contracts.PhaseRevision: {
				RequiresManualProgression: true,
			},
			contracts.PhaseVoting: {
				DefaultDuration:    Duration(72 * time.Hour),
				MinParticipants:    5,
				ConsensusThreshold: 0.7,
				AllowedExtensions:  1,
				ExtensionDuration:  Duration(24 * time.Hour),
			},
			contracts.PhaseResolution: {},
			contracts.PhaseExecution:  {},
		},
	}
}

// LoadProfile reads a profile YAML and gates it on the supported schema
// version range.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}

	if err := checkVersion(profile.Version); err != nil {
		return nil, fmt.Errorf("profile %s: %w", path, err)
	}

	for ph := range profile.Phases {
		if !ph.Valid() {
			return nil, fmt.Errorf("profile %s: unknown phase %q", path, ph)
		}
	}
	return &profile, nil
}

func checkVersion(raw string) error {
	if raw == "" {
		return fmt.Errorf("profile version missing")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("invalid profile version %q: %w", raw, err)
	}
	constraint, err := semver.NewConstraint(profileVersions)
	if err != nil {
		return fmt.Errorf("invalid version constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("profile version %s outside supported range %s", raw, profileVersions)
	}
	return nil
}
