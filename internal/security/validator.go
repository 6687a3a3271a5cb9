package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const (
	ModeBlacklist = "blacklist"
	ModeWhitelist = "whitelist"
	ModeDisabled  = "disabled"
)

// DefaultBlacklistPatterns is applied when no blacklist is configured.
var DefaultBlacklistPatterns = []string{
	`rm\s+.*-r.*`,                    // recursive deletions
	`rm\s+.*-f.*`,                    // force deletions
	`dd\s+.*`,                        // disk operations
	`mkfs[.\s].*`,                    // format filesystem
	`fdisk\s+.*`,                     // disk partitioning
	`parted\s+.*`,                    // disk partitioning
	`sudo\s+.*`,                      // privilege escalation
	`su\s+.*`,                        // switch user
	`passwd\s+.*`,                    // password changes
	`iptables\s+.*`,                  // firewall rules
	`ufw\s+.*`,                       // ubuntu firewall
	`systemctl\s+(stop|disable|mask).*`, // service control
	`service\s+(stop|disable).*`,     // service control
	`killall\s+.*`,                   // kill all processes
	`pkill\s+.*`,                     // kill by name
	`shutdown\s+.*`,                  // system shutdown
	`reboot\s+.*`,                    // system reboot
	`halt\s+.*`,                      // system halt
	`init\s+[06]`,                    // runlevel shutdown/reboot
	`mount\s+.*`,                     // mount filesystems
	`umount\s+.*`,                    // unmount filesystems
	`chmod\s+.*777.*`,                // world-writable permissions
	`chown\s+.*root.*`,               // ownership to root
	`.*>\s*/dev/sd[a-z].*`,           // write to disk devices
	`.*>\s*/dev/nvme.*`,              // write to nvme devices
	`crontab\s+-r`,                   // remove crontab
	`history\s+-c`,                   // clear history
	`.*\|\s*sh\s*$`,                  // pipe to shell
	`.*\|\s*bash\s*$`,                // pipe to bash
	`curl\s+.*\|\s*(sh|bash)`,        // download and execute
	`wget\s+.*\|\s*(sh|bash)`,        // download and execute
}

// Decision is the outcome of validating one command.
type Decision struct {
	Allowed        bool   `json:"allowed"`
	Reason         string `json:"reason"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}

// Observer receives every validation decision, e.g. for the audit trail.
type Observer interface {
	SecurityDecision(command, host string, d Decision)
}

type rule struct {
	raw string
	re  *regexp.Regexp
}

// Policy is built once at startup and never mutated afterwards.
type Policy struct {
	Mode          string
	CaseSensitive bool
	blacklist     []rule
	whitelist     []rule
}

// NewPolicy compiles the configured pattern lists. Patterns that fail to
// compile are logged and skipped; in whitelist mode an empty effective list
// means nothing is allowed.
func NewPolicy(mode string, blacklist, whitelist string, caseSensitive bool) *Policy {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = ModeBlacklist
	}

	p := &Policy{
		Mode:          mode,
		CaseSensitive: caseSensitive,
	}

	blackPatterns := SplitPatterns(blacklist)
	if len(blackPatterns) == 0 {
		blackPatterns = DefaultBlacklistPatterns
	}
	p.blacklist = compileRules(blackPatterns, caseSensitive)
	p.whitelist = compileRules(SplitPatterns(whitelist), caseSensitive)

	slog.Info("Security policy loaded",
		"mode", p.Mode,
		"case_sensitive", p.CaseSensitive,
		"blacklist_patterns", len(p.blacklist),
		"whitelist_patterns", len(p.whitelist),
	)
	return p
}

// SplitPatterns splits a semicolon or newline delimited pattern list.
func SplitPatterns(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == '\n'
	}) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func compileRules(patterns []string, caseSensitive bool) []rule {
	rules := make([]rule, 0, len(patterns))
	for _, p := range patterns {
		expr := p
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			slog.Error("Invalid security pattern, skipping", "pattern", p, "error", err)
			continue
		}
		rules = append(rules, rule{raw: p, re: re})
	}
	return rules
}

// BlacklistPatterns returns the raw patterns of the compiled blacklist rules.
func (p *Policy) BlacklistPatterns() []string { return rawPatterns(p.blacklist) }

// WhitelistPatterns returns the raw patterns of the compiled whitelist rules.
func (p *Policy) WhitelistPatterns() []string { return rawPatterns(p.whitelist) }

func rawPatterns(rules []rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.raw
	}
	return out
}

// Validator gates commands against a Policy before any network call is made.
type Validator struct {
	policy   *Policy
	observer Observer
}

func NewValidator(policy *Policy, observer Observer) *Validator {
	return &Validator{policy: policy, observer: observer}
}

func (v *Validator) Policy() *Policy { return v.policy }

// Validate checks a command against the active policy. Rules are evaluated
// in configuration order against the entire command string; the first match
// decides.
func (v *Validator) Validate(command, host string) Decision {
	d := v.decide(command)
	if v.observer != nil {
		v.observer.SecurityDecision(command, host, d)
	}
	if d.Allowed {
		slog.Info("Command allowed", "host", host, "mode", v.policy.Mode)
	} else {
		slog.Warn("Command denied", "host", host, "mode", v.policy.Mode,
			"reason", d.Reason, "pattern", d.MatchedPattern)
	}
	return d
}

func (v *Validator) decide(command string) Decision {
	if v.policy.Mode == ModeDisabled {
		return Decision{Allowed: true, Reason: "Security validation disabled"}
	}

	command = strings.TrimSpace(command)
	if command == "" {
		return Decision{Allowed: false, Reason: "Empty command not allowed"}
	}

	switch v.policy.Mode {
	case ModeWhitelist:
		if len(v.policy.whitelist) == 0 {
			return Decision{Allowed: false, Reason: "No whitelist patterns configured - all commands blocked"}
		}
		for _, r := range v.policy.whitelist {
			if r.re.MatchString(command) {
				return Decision{
					Allowed:        true,
					Reason:         "Command matches whitelist pattern",
					MatchedPattern: r.raw,
				}
			}
		}
		return Decision{Allowed: false, Reason: "Command not found in whitelist patterns"}

	case ModeBlacklist:
		for _, r := range v.policy.blacklist {
			if r.re.MatchString(command) {
				return Decision{
					Allowed:        false,
					Reason:         "Command blocked by security policy",
					MatchedPattern: r.raw,
				}
			}
		}
		return Decision{Allowed: true, Reason: "Command passed security validation"}

	default:
		return Decision{Allowed: false, Reason: fmt.Sprintf("Unknown security mode: %s", v.policy.Mode)}
	}
}
