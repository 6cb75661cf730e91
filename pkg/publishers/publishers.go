package publishers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/samvad-hq/parsehub-runwatcher/internal/registryfile"
)

const (
	// Supported publisher types.
	TypeSQS       = "sqs"
	TypeSNS       = "sns"
	TypeGCPPubSub = "gcp_pubsub"
	TypeHTTP      = "http"

	httpDefaultTimeoutSeconds = 5
)

type configFile struct {
	Publishers []PublisherConfig `json:"publishers" yaml:"publishers"`
}

// PublisherConfig is one event sink declared in the publishers file.
type PublisherConfig struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	Enabled *bool  `json:"enabled" yaml:"enabled"`
	// Jobs limits the sink to run events of these job tokens. Empty accepts all.
	Jobs      []string                  `json:"jobs" yaml:"jobs"`
	SQS       *SQSPublisherConfig       `json:"sqs" yaml:"sqs"`
	SNS       *SNSPublisherConfig       `json:"sns" yaml:"sns"`
	GCPPubSub *GCPPubSubPublisherConfig `json:"gcp_pubsub" yaml:"gcp_pubsub"`
	HTTP      *HTTPPublisherConfig      `json:"http" yaml:"http"`
}

// AWSCredentials optionally pins static credentials instead of the default chain.
type AWSCredentials struct {
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	SessionToken    string `json:"session_token" yaml:"session_token"`
}

// SQSPublisherConfig holds AWS SQS specific settings.
type SQSPublisherConfig struct {
	QueueURL    string          `json:"uri" yaml:"uri"`
	Region      string          `json:"region" yaml:"region"`
	Credentials *AWSCredentials `json:"credentials" yaml:"credentials"`
}

// SNSPublisherConfig holds AWS SNS specific settings. Region defaults to the
// one embedded in the topic ARN.
type SNSPublisherConfig struct {
	TopicARN    string          `json:"topic_arn" yaml:"topic_arn"`
	Region      string          `json:"region" yaml:"region"`
	Credentials *AWSCredentials `json:"credentials" yaml:"credentials"`
}

// GCPPubSubPublisherConfig holds Google Cloud Pub/Sub settings. Topic may be a
// short id or a full "projects/<p>/topics/<t>" name.
type GCPPubSubPublisherConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	Topic           string `json:"topic" yaml:"topic"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// HTTPPublisherConfig holds webhook settings. Events are sent as JSON bodies,
// so only POST and PUT are accepted.
type HTTPPublisherConfig struct {
	URL            string            `json:"url" yaml:"url"`
	Method         string            `json:"method" yaml:"method"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// sinkConfig is the type-specific block of a PublisherConfig.
type sinkConfig interface {
	normalize()
	validate() error
}

// ConfigRegistry holds the validated publisher entries. It is immutable once built.
type ConfigRegistry struct {
	publishers []PublisherConfig
	idx        map[string]int
}

// LoadRegistry loads the publisher registry from a YAML or JSON file.
func LoadRegistry(path string) (*ConfigRegistry, error) {
	var f configFile
	if err := registryfile.Load(path, "publishers", &f); err != nil {
		return nil, err
	}
	return NewConfigRegistry(f.Publishers)
}

// NewConfigRegistry normalizes and validates entries.
func NewConfigRegistry(entries []PublisherConfig) (*ConfigRegistry, error) {
	if len(entries) == 0 {
		return nil, errors.New("publishers file contains no publishers entries")
	}

	reg := &ConfigRegistry{idx: make(map[string]int, len(entries))}
	for i, cfg := range entries {
		cfg.normalize()
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("publishers[%d]: %w", i, err)
		}
		if _, dup := reg.idx[cfg.ID]; dup {
			return nil, fmt.Errorf("duplicate publisher id %q", cfg.ID)
		}
		reg.idx[cfg.ID] = len(reg.publishers)
		reg.publishers = append(reg.publishers, cfg)
	}
	return reg, nil
}

// ByID returns the publisher config by id.
func (r *ConfigRegistry) ByID(id string) (PublisherConfig, bool) {
	if r == nil {
		return PublisherConfig{}, false
	}
	i, ok := r.idx[strings.TrimSpace(id)]
	if !ok {
		return PublisherConfig{}, false
	}
	return r.publishers[i], true
}

// Enabled returns the publishers that are switched on, in file order.
func (r *ConfigRegistry) Enabled() []PublisherConfig {
	if r == nil {
		return nil
	}
	var out []PublisherConfig
	for _, cfg := range r.publishers {
		if cfg.Enabled == nil || *cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}

// Accepts reports whether run events of jobToken go to this publisher.
func (cfg PublisherConfig) Accepts(jobToken string) bool {
	if len(cfg.Jobs) == 0 {
		return true
	}
	for _, j := range cfg.Jobs {
		if j == jobToken {
			return true
		}
	}
	return false
}

// sink returns the block matching Type, or nil when it is absent.
func (cfg *PublisherConfig) sink() sinkConfig {
	switch cfg.Type {
	case TypeSQS:
		if cfg.SQS != nil {
			return cfg.SQS
		}
	case TypeSNS:
		if cfg.SNS != nil {
			return cfg.SNS
		}
	case TypeGCPPubSub:
		if cfg.GCPPubSub != nil {
			return cfg.GCPPubSub
		}
	case TypeHTTP:
		if cfg.HTTP != nil {
			return cfg.HTTP
		}
	}
	return nil
}

// normalize trims the entry in place. Sink blocks are copied first so the
// caller's config is left untouched.
func (cfg *PublisherConfig) normalize() {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Type = strings.ToLower(strings.TrimSpace(cfg.Type))
	if cfg.Enabled == nil {
		on := true
		cfg.Enabled = &on
	}

	var jobs []string
	for _, j := range cfg.Jobs {
		if j = strings.TrimSpace(j); j != "" {
			jobs = append(jobs, j)
		}
	}
	cfg.Jobs = jobs

	if cfg.SQS != nil {
		c := *cfg.SQS
		cfg.SQS = &c
	}
	if cfg.SNS != nil {
		c := *cfg.SNS
		cfg.SNS = &c
	}
	if cfg.GCPPubSub != nil {
		c := *cfg.GCPPubSub
		cfg.GCPPubSub = &c
	}
	if cfg.HTTP != nil {
		c := *cfg.HTTP
		cfg.HTTP = &c
	}
	if s := cfg.sink(); s != nil {
		s.normalize()
	}
}

func (cfg *PublisherConfig) validate() error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}
	switch cfg.Type {
	case "":
		return fmt.Errorf("type is required for publisher %q", cfg.ID)
	case TypeSQS, TypeSNS, TypeGCPPubSub, TypeHTTP:
	default:
		return fmt.Errorf("unknown type %q for publisher %q", cfg.Type, cfg.ID)
	}

	s := cfg.sink()
	if s == nil {
		return fmt.Errorf("%s config required for publisher %q", cfg.Type, cfg.ID)
	}
	if err := s.validate(); err != nil {
		return fmt.Errorf("%w for publisher %q", err, cfg.ID)
	}
	return nil
}

func (c *SQSPublisherConfig) normalize() {
	c.QueueURL = strings.TrimSpace(c.QueueURL)
	c.Region = strings.TrimSpace(c.Region)
	c.Credentials = c.Credentials.normalized()
}

func (c *SQSPublisherConfig) validate() error {
	switch {
	case c.QueueURL == "":
		return errors.New("sqs.uri is required")
	case !isAbsoluteURL(c.QueueURL, "https", "http"):
		return fmt.Errorf("sqs.uri %q is not a queue URL", c.QueueURL)
	case c.Region == "":
		return errors.New("sqs.region is required")
	}
	return c.Credentials.validate("sqs")
}

func (c *SNSPublisherConfig) normalize() {
	c.TopicARN = strings.TrimSpace(c.TopicARN)
	c.Region = strings.TrimSpace(c.Region)
	if c.Region == "" {
		c.Region = arnRegion(c.TopicARN)
	}
	c.Credentials = c.Credentials.normalized()
}

func (c *SNSPublisherConfig) validate() error {
	switch {
	case c.TopicARN == "":
		return errors.New("sns.topic_arn is required")
	case !strings.HasPrefix(c.TopicARN, "arn:") || !strings.Contains(c.TopicARN, ":sns:"):
		return fmt.Errorf("sns.topic_arn %q is not an SNS topic ARN", c.TopicARN)
	case c.Region == "":
		return errors.New("sns.region is required")
	}
	return c.Credentials.validate("sns")
}

// arnRegion extracts the region from arn:partition:service:region:account:resource.
func arnRegion(arn string) string {
	parts := strings.SplitN(arn, ":", 6)
	if len(parts) < 6 {
		return ""
	}
	return parts[3]
}

func (c *GCPPubSubPublisherConfig) normalize() {
	c.ProjectID = strings.TrimSpace(c.ProjectID)
	c.Topic = strings.TrimSpace(c.Topic)
	c.CredentialsFile = strings.TrimSpace(c.CredentialsFile)

	parts := strings.Split(c.Topic, "/")
	if len(parts) == 4 && parts[0] == "projects" && parts[2] == "topics" {
		if c.ProjectID == "" {
			c.ProjectID = parts[1]
		}
		if c.ProjectID == parts[1] {
			c.Topic = parts[3]
		}
	}
}

func (c *GCPPubSubPublisherConfig) validate() error {
	if c.ProjectID == "" || c.Topic == "" {
		return errors.New("gcp_pubsub.project_id and gcp_pubsub.topic are required")
	}
	if strings.Contains(c.Topic, "/") {
		return fmt.Errorf("gcp_pubsub.topic %q does not belong to project %q", c.Topic, c.ProjectID)
	}
	return nil
}

func (c *HTTPPublisherConfig) normalize() {
	c.URL = strings.TrimSpace(c.URL)
	c.Method = strings.ToUpper(strings.TrimSpace(c.Method))
	if c.Method == "" {
		c.Method = http.MethodPost
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = httpDefaultTimeoutSeconds
	}

	headers := make(map[string]string, len(c.Headers))
	for k, v := range c.Headers {
		if k, v = strings.TrimSpace(k), strings.TrimSpace(v); k != "" && v != "" {
			headers[k] = v
		}
	}
	c.Headers = nil
	if len(headers) > 0 {
		c.Headers = headers
	}
}

func (c *HTTPPublisherConfig) validate() error {
	switch {
	case c.URL == "":
		return errors.New("http.url is required")
	case !isAbsoluteURL(c.URL, "https", "http"):
		return fmt.Errorf("http.url %q must be an absolute http(s) URL", c.URL)
	case c.Method != http.MethodPost && c.Method != http.MethodPut:
		return fmt.Errorf("http.method %q cannot carry an event body", c.Method)
	}
	return nil
}

func (c *AWSCredentials) normalized() *AWSCredentials {
	if c == nil {
		return nil
	}
	return &AWSCredentials{
		AccessKeyID:     strings.TrimSpace(c.AccessKeyID),
		SecretAccessKey: strings.TrimSpace(c.SecretAccessKey),
		SessionToken:    strings.TrimSpace(c.SessionToken),
	}
}

func (c *AWSCredentials) validate(prefix string) error {
	if c == nil {
		return nil
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("%s.credentials needs both access_key_id and secret_access_key", prefix)
	}
	return nil
}

func isAbsoluteURL(raw string, schemes ...string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return true
		}
	}
	return false
}
