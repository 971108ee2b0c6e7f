// Package input validates the CLI/environment-variable configuration
// surface into the fixed set of options spec §4.7 enumerates.
package input

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ghcr-tools/container-retention-policy/internal/account"
	"github.com/ghcr-tools/container-retention-policy/internal/client"
	"github.com/ghcr-tools/container-retention-policy/internal/selector"
	"github.com/ghcr-tools/container-retention-policy/internal/token"
)

// Input is the validated configuration the rest of the engine consumes.
type Input struct {
	Account         account.Account
	Token           token.Token
	GithubServerURL string
	GithubAPIURL    string
	ImageNames      []string
	ImageTags       []string
	ShasToSkip      []string
	TagSelection    selector.TagSelection
	KeepNMostRecent uint32
	DryRun          bool
	TimestampToUse  client.Timestamp
	CutOff          time.Duration
	LogLevel        string
}

var shaPattern = regexp.MustCompile(`^sha256:[0-9a-fA-F]{64}$`)

// Raw is the unvalidated, string-typed form of every option — the shape a
// flag parser or environment-variable reader naturally produces.
type Raw struct {
	OrganizationName string // "" selects the User account
	TokenSecret      string
	GithubServerURL  string
	GithubAPIURL     string
	ImageNames       string
	ImageTags        string
	ShasToSkip       string
	TagSelection     string
	KeepNMostRecent  string
	DryRun           bool
	TimestampToUse   string
	CutOff           string
	LogLevel         string
}

// Validate parses and validates r, aggregating every config error found
// rather than failing on the first, so a user sees the full list of
// problems in one run (spec §7 "Config error").
func Validate(r Raw) (Input, error) {
	var errs []error
	var in Input

	if r.OrganizationName != "" {
		in.Account = account.Organization{Name: r.OrganizationName}
	} else {
		in.Account = account.User{}
	}

	if tok, err := token.Parse(r.TokenSecret); err != nil {
		errs = append(errs, fmt.Errorf("token: %w", err))
	} else {
		in.Token = tok
	}

	in.GithubServerURL = defaultString(r.GithubServerURL, "https://github.com")
	in.GithubAPIURL = defaultString(r.GithubAPIURL, "https://api.github.com")
	if _, err := url.Parse(in.GithubServerURL); err != nil {
		errs = append(errs, fmt.Errorf("github_server_url: %w", err))
	}
	if _, err := url.Parse(in.GithubAPIURL); err != nil {
		errs = append(errs, fmt.Errorf("github_api_url: %w", err))
	}

	in.ImageNames = ParseList(r.ImageNames)
	if len(in.ImageNames) == 0 {
		errs = append(errs, errors.New("image_names: at least one pattern is required"))
	}
	if in.Token != nil && token.IsTemporal(in.Token) {
		for _, n := range in.ImageNames {
			if strings.ContainsAny(n, "*!") {
				errs = append(errs, fmt.Errorf("image_names: %q is a wildcard/negation pattern, not permitted with a temporal (workflow) token", n))
			}
		}
	}

	in.ImageTags = ParseList(r.ImageTags)

	for _, s := range ParseList(r.ShasToSkip) {
		if !shaPattern.MatchString(s) {
			errs = append(errs, fmt.Errorf("shas_to_skip: %q is not a valid sha256 digest", s))
			continue
		}
		in.ShasToSkip = append(in.ShasToSkip, s)
	}

	switch strings.ToLower(strings.TrimSpace(r.TagSelection)) {
	case "", "both":
		in.TagSelection = selector.Both
	case "tagged":
		in.TagSelection = selector.Tagged
	case "untagged":
		in.TagSelection = selector.Untagged
	default:
		errs = append(errs, fmt.Errorf("tag_selection: unrecognized value %q", r.TagSelection))
	}

	switch {
	case r.KeepNMostRecent == "":
		in.KeepNMostRecent = 0
	default:
		if n, err := strconv.ParseUint(r.KeepNMostRecent, 10, 32); err != nil {
			errs = append(errs, fmt.Errorf("keep_n_most_recent: %w", err))
		} else {
			in.KeepNMostRecent = uint32(n)
		}
	}

	in.DryRun = r.DryRun

	switch strings.ToLower(strings.TrimSpace(r.TimestampToUse)) {
	case "", "updated_at", "updatedat":
		in.TimestampToUse = client.UpdatedAt
	case "created_at", "createdat":
		in.TimestampToUse = client.CreatedAt
	default:
		errs = append(errs, fmt.Errorf("timestamp_to_use: unrecognized value %q", r.TimestampToUse))
	}

	switch {
	case r.CutOff == "":
		errs = append(errs, errors.New("cut_off: required"))
	default:
		if d, err := ParseCutOff(r.CutOff); err != nil {
			errs = append(errs, fmt.Errorf("cut_off: %w", err))
		} else {
			in.CutOff = d
		}
	}

	in.LogLevel = defaultString(r.LogLevel, "info")

	if len(errs) > 0 {
		return Input{}, errors.Join(errs...)
	}
	return in, nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// ParseList splits a raw option value on commas and whitespace, trims
// surrounding quotes from each entry, and drops entries that are empty
// after trimming (spec §4.7 "Lists parse from a string").
func ParseList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ' ', '\t', '\n', '\r':
			return true
		default:
			return false
		}
	})

	var out []string
	for _, f := range fields {
		f = strings.Trim(f, `"'`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// ParseCutOff parses a human duration like "1w", "3d", "2h", or any form
// time.ParseDuration recognizes ("90m", "1h30m"). No example repo in the
// retrieved pack imports a dedicated human-duration library, so this is a
// small purpose-built parser rather than an adopted dependency.
func ParseCutOff(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var perUnit time.Duration
	switch s[len(s)-1] {
	case 'w':
		perUnit = 7 * 24 * time.Hour
	case 'd':
		perUnit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unrecognized duration %q", s)
	}

	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("unrecognized duration %q: %w", s, err)
	}
	return time.Duration(n * float64(perUnit)), nil
}
