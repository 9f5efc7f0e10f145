package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/dock-tor/dock-tor/pkg/types"
)

// Scope selects which containers are eligible for scanning.
type Scope string

const (
	ScopeAll     Scope = "ALL"
	ScopeCompose Scope = "COMPOSE"
)

// Keys understood by Load. Each key is also read from the upper-cased
// environment variable of the same name (e.g. SCAN_SCOPE).
const (
	KeySMTPHost          = "smtp_host"
	KeySMTPPort          = "smtp_port"
	KeySMTPUser          = "smtp_user"
	KeySMTPPass          = "smtp_pass"
	KeySMTPUseSSL        = "smtp_use_ssl"
	KeyMailFrom          = "mail_from"
	KeyMailTo            = "mail_to"
	KeyTrivyBin          = "trivy_bin"
	KeyTrivyArgs         = "trivy_args"
	KeyExcludeLabel      = "exclude_label"
	KeyOnlyRunning       = "only_running"
	KeyAttachJSON        = "attach_json"
	KeyLogLevel          = "log_level"
	KeyMinNotifySeverity = "min_notify_severity"
	KeyScanScope         = "scan_scope"
	KeyScanTimeout       = "scan_timeout"
	KeyMaxConcurrent     = "max_concurrent_scans"
	KeyNotifyOnFailure   = "notify_on_failure"
	KeyComposeService    = "compose_service"
	KeySelfID            = "self_id"
	KeyTemplateDir       = "template_dir"
	KeyLogoPath          = "logo_path"
)

// Label is a key/value pair matched against container labels.
type Label struct {
	Key   string
	Value string
}

func (l Label) String() string {
	return l.Key + "=" + l.Value
}

// SMTP holds the mail transport settings.
type SMTP struct {
	Host   string
	Port   int
	User   string
	Pass   string
	UseSSL bool
}

// Settings is the validated, immutable configuration of one process. It is
// built once by Load and handed by value to each component.
type Settings struct {
	SMTP     SMTP
	MailFrom string
	MailTo   []string

	TrivyBin  string
	TrivyArgs string
	Timeout   time.Duration
	// Concurrency bounds the number of scanner processes running at once.
	Concurrency int

	Scope          Scope
	OnlyRunning    bool
	Exclude        Label
	ComposeService string
	SelfID         string

	MinSeverity     types.Severity
	NotifyOnFailure types.FailurePolicy

	AttachJSON  bool
	TemplateDir string
	LogoPath    string
	LogLevel    string
}

// SetDefaults registers the default for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeySMTPHost, "smtp.example.com")
	v.SetDefault(KeySMTPPort, 587)
	v.SetDefault(KeySMTPUser, "")
	v.SetDefault(KeySMTPPass, "")
	v.SetDefault(KeySMTPUseSSL, "true")
	v.SetDefault(KeyMailFrom, "scanner@example.com")
	v.SetDefault(KeyMailTo, "security@example.com")
	v.SetDefault(KeyTrivyBin, "trivy")
	v.SetDefault(KeyTrivyArgs, "--severity HIGH,CRITICAL --ignore-unfixed --timeout 5m")
	v.SetDefault(KeyExcludeLabel, types.LabelIgnore+"=true")
	v.SetDefault(KeyOnlyRunning, "true")
	v.SetDefault(KeyAttachJSON, "true")
	v.SetDefault(KeyLogLevel, "INFO")
	v.SetDefault(KeyMinNotifySeverity, "LOW")
	v.SetDefault(KeyScanScope, string(ScopeAll))
	v.SetDefault(KeyScanTimeout, "10m")
	v.SetDefault(KeyMaxConcurrent, 2)
	v.SetDefault(KeyNotifyOnFailure, string(types.FailureAny))
	v.SetDefault(KeyComposeService, "dock-tor")
	v.SetDefault(KeySelfID, os.Getenv("HOSTNAME"))
	v.SetDefault(KeyTemplateDir, "")
	v.SetDefault(KeyLogoPath, "")
}

// New returns a viper instance reading the environment, with defaults set.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.AutomaticEnv()
	return v
}

// Load reads and validates the settings held by v. Every problem found is
// reported, not just the first.
func Load(v *viper.Viper) (*Settings, error) {
	var errs *multierror.Error
	for _, key := range unknownKeys(v) {
		errs = multierror.Append(errs, fmt.Errorf("%s: unknown key", key))
	}

	s := &Settings{
		SMTP: SMTP{
			Host: strings.TrimSpace(v.GetString(KeySMTPHost)),
			User: v.GetString(KeySMTPUser),
			Pass: v.GetString(KeySMTPPass),
		},
		MailFrom:       strings.TrimSpace(v.GetString(KeyMailFrom)),
		MailTo:         splitList(v.GetStringSlice(KeyMailTo)),
		TrivyBin:       strings.TrimSpace(v.GetString(KeyTrivyBin)),
		TrivyArgs:      v.GetString(KeyTrivyArgs),
		Scope:          Scope(strings.ToUpper(strings.TrimSpace(v.GetString(KeyScanScope)))),
		ComposeService: strings.TrimSpace(v.GetString(KeyComposeService)),
		SelfID:         strings.TrimSpace(v.GetString(KeySelfID)),
		TemplateDir:    v.GetString(KeyTemplateDir),
		LogoPath:       v.GetString(KeyLogoPath),
		LogLevel:       strings.ToUpper(strings.TrimSpace(v.GetString(KeyLogLevel))),
	}

	var err error
	if s.SMTP.Port, err = strconv.Atoi(strings.TrimSpace(v.GetString(KeySMTPPort))); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", KeySMTPPort, err))
	} else if s.SMTP.Port <= 0 || s.SMTP.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("%s: port %d out of range", KeySMTPPort, s.SMTP.Port))
	}
	if s.Concurrency, err = strconv.Atoi(strings.TrimSpace(v.GetString(KeyMaxConcurrent))); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", KeyMaxConcurrent, err))
	} else if s.Concurrency < 1 {
		errs = multierror.Append(errs, fmt.Errorf("%s: must be at least 1, got %d", KeyMaxConcurrent, s.Concurrency))
	}
	if s.Timeout, err = time.ParseDuration(strings.TrimSpace(v.GetString(KeyScanTimeout))); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", KeyScanTimeout, err))
	} else if s.Timeout <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s: must be positive, got %s", KeyScanTimeout, s.Timeout))
	}

	s.SMTP.UseSSL = parseBool(v.GetString(KeySMTPUseSSL))
	s.OnlyRunning = parseBool(v.GetString(KeyOnlyRunning))
	s.AttachJSON = parseBool(v.GetString(KeyAttachJSON))

	if s.MinSeverity, err = types.ParseSeverity(v.GetString(KeyMinNotifySeverity)); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", KeyMinNotifySeverity, err))
	}
	if s.Exclude, err = ParseLabel(v.GetString(KeyExcludeLabel)); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("%s: %w", KeyExcludeLabel, err))
	}

	switch s.Scope {
	case ScopeAll, ScopeCompose:
	default:
		errs = multierror.Append(errs, fmt.Errorf("%s: unknown scope %q (want ALL or COMPOSE)", KeyScanScope, s.Scope))
	}

	s.NotifyOnFailure = types.FailurePolicy(strings.ToLower(strings.TrimSpace(v.GetString(KeyNotifyOnFailure))))
	switch s.NotifyOnFailure {
	case types.FailureNever, types.FailureAll, types.FailureAny:
	default:
		errs = multierror.Append(errs, fmt.Errorf("%s: unknown policy %q (want never, all or any)", KeyNotifyOnFailure, s.NotifyOnFailure))
	}

	if s.TrivyBin == "" {
		errs = multierror.Append(errs, fmt.Errorf("%s: must not be empty", KeyTrivyBin))
	}
	if len(s.MailTo) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s: at least one recipient is required", KeyMailTo))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseLabel parses a key=value label selector. The value may itself contain
// '=' characters; only the first one separates key from value.
func ParseLabel(raw string) (Label, error) {
	key, value, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok || strings.TrimSpace(key) == "" {
		return Label{}, fmt.Errorf("expected key=value, got %q", raw)
	}
	return Label{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)}, nil
}

// Redacted returns a copy with secrets masked, for display.
func (s Settings) Redacted() Settings {
	if s.SMTP.Pass != "" {
		s.SMTP.Pass = "********"
	}
	s.MailTo = append([]string(nil), s.MailTo...)
	return s
}

// splitList accepts both a comma separated string and a YAML list.
func splitList(raw []string) []string {
	var out []string
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

var knownKeys = []string{
	KeySMTPHost, KeySMTPPort, KeySMTPUser, KeySMTPPass, KeySMTPUseSSL,
	KeyMailFrom, KeyMailTo, KeyTrivyBin, KeyTrivyArgs, KeyExcludeLabel,
	KeyOnlyRunning, KeyAttachJSON, KeyLogLevel, KeyMinNotifySeverity,
	KeyScanScope, KeyScanTimeout, KeyMaxConcurrent, KeyNotifyOnFailure,
	KeyComposeService, KeySelfID, KeyTemplateDir, KeyLogoPath,
}

// unknownKeys lists keys set on v, typically from a config file, that Load
// does not read. Nested blocks show up as dotted keys (smtp.host).
func unknownKeys(v *viper.Viper) []string {
	var unknown []string
	for _, key := range v.AllKeys() {
		if !slices.Contains(knownKeys, key) {
			unknown = append(unknown, key)
		}
	}
	slices.Sort(unknown)
	return unknown
}

// Values returns the settings as a flat map keyed like the config file, in
// the scalar forms Load reads back.
func (s Settings) Values() map[string]any {
	return map[string]any{
		KeySMTPHost:          s.SMTP.Host,
		KeySMTPPort:          s.SMTP.Port,
		KeySMTPUser:          s.SMTP.User,
		KeySMTPPass:          s.SMTP.Pass,
		KeySMTPUseSSL:        s.SMTP.UseSSL,
		KeyMailFrom:          s.MailFrom,
		KeyMailTo:            strings.Join(s.MailTo, ","),
		KeyTrivyBin:          s.TrivyBin,
		KeyTrivyArgs:         s.TrivyArgs,
		KeyExcludeLabel:      s.Exclude.String(),
		KeyOnlyRunning:       s.OnlyRunning,
		KeyAttachJSON:        s.AttachJSON,
		KeyLogLevel:          s.LogLevel,
		KeyMinNotifySeverity: s.MinSeverity.String(),
		KeyScanScope:         string(s.Scope),
		KeyScanTimeout:       s.Timeout.String(),
		KeyMaxConcurrent:     s.Concurrency,
		KeyNotifyOnFailure:   string(s.NotifyOnFailure),
		KeyComposeService:    s.ComposeService,
		KeySelfID:            s.SelfID,
		KeyTemplateDir:       s.TemplateDir,
		KeyLogoPath:          s.LogoPath,
	}
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
