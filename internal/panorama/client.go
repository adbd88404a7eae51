package panorama

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"panorama-rulefinder/internal/metrics"
)

const (
	DefaultPort     = 443
	DefaultDevice   = "localhost.localdomain"
	PostRulebase    = "post-rulebase"
	PreRulebase     = "pre-rulebase"
	sharedAddresses = "/config/shared/address"

	callRules     = "getrules"
	callAddresses = "getobjects"
)

type Config struct {
	Host     string        `yaml:"host"` // host or host:port
	APIKey   string        `yaml:"api_key"`
	Port     int           `yaml:"port"`     // probe and API port when Host has none
	Device   string        `yaml:"device"`   // managed device entry holding the device groups
	Rulebase string        `yaml:"rulebase"` // "post-rulebase" or "pre-rulebase"
	Timeout  time.Duration `yaml:"timeout"`  // zero leaves the platform default
}

// Client talks to the management XML API.
type Client struct {
	conf       Config
	addr       string
	baseURL    string
	httpClient *http.Client
	dialer     *net.Dialer
}

// NewClient returns a Client for conf. It does not touch the network.
func NewClient(conf Config) (*Client, error) {
	host := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(conf.Host), "https://"), "/")
	if host == "" {
		return nil, errors.New("panorama host must be set")
	}
	if conf.APIKey == "" {
		return nil, errors.New("panorama api key must be set")
	}
	if conf.Port == 0 {
		conf.Port = DefaultPort
	}
	if conf.Device == "" {
		conf.Device = DefaultDevice
	}
	switch conf.Rulebase {
	case "":
		conf.Rulebase = PostRulebase
	case PostRulebase, PreRulebase:
	default:
		return nil, errors.Newf("unknown rulebase %q: want %s or %s", conf.Rulebase, PostRulebase, PreRulebase)
	}

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(conf.Port))
	}

	base, err := url.Parse("https://" + addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse base url for %s", addr)
	}

	client := &http.Client{
		Transport: &http.Transport{
			// Management endpoints usually present self-signed certificates.
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
		Timeout: conf.Timeout,
	}

	return &Client{
		conf:       conf,
		addr:       addr,
		baseURL:    base.String(),
		httpClient: client,
		dialer:     &net.Dialer{Timeout: conf.Timeout},
	}, nil
}

// Probe checks that the API port accepts TCP connections.
func (c *Client) Probe(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return &ConnectivityError{Addr: c.addr, Err: err}
	}
	conn.Close()
	return nil
}

// RulesXPath returns the xpath selecting the security rulebase of deviceGroup.
func (c *Client) RulesXPath(deviceGroup string) (string, error) {
	if strings.TrimSpace(deviceGroup) == "" {
		return "", errors.New("device group must not be empty")
	}
	if strings.ContainsAny(deviceGroup, `'"[]`) {
		return "", errors.Newf("invalid device group name %q", deviceGroup)
	}
	return fmt.Sprintf("/config/devices/entry[@name='%s']/device-group/entry[@name='%s']/%s/security",
		c.conf.Device, deviceGroup, c.conf.Rulebase), nil
}

// FetchRules returns the security rule subtree of a device group.
func (c *Client) FetchRules(ctx context.Context, deviceGroup string) (*Response, error) {
	xpath, err := c.RulesXPath(deviceGroup)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, callRules, xpath)
}

// FetchAddressObjects returns the shared address object subtree.
func (c *Client) FetchAddressObjects(ctx context.Context) (*Response, error) {
	return c.get(ctx, callAddresses, sharedAddresses)
}

func (c *Client) get(ctx context.Context, call, xpath string) (*Response, error) {
	if err := c.Probe(ctx); err != nil {
		metrics.Get().APIRequests.WithLabelValues(call, "unreachable").Inc()
		return nil, err
	}

	resp, err := c.do(ctx, call, xpath)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.Get().APIRequests.WithLabelValues(call, outcome).Inc()
	return resp, err
}

func (c *Client) do(ctx context.Context, call, xpath string) (*Response, error) {
	query := url.Values{}
	query.Set("type", "config")
	query.Set("action", "get")
	query.Set("xpath", xpath)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create new request")
	}
	request.Header.Set("X-PAN-KEY", c.conf.APIKey)

	slog.Debug("Calling management API", "call", call, "xpath", xpath)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, &APIError{Call: call, Err: err}
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		io.Copy(io.Discard, response.Body)
		return nil, &APIError{Call: call, StatusCode: response.StatusCode, Message: "verify the api key is correct"}
	}

	var parsed Response
	if err := xml.NewDecoder(response.Body).Decode(&parsed); err != nil {
		return nil, &APIError{Call: call, StatusCode: response.StatusCode, Message: "malformed xml response", Err: err}
	}
	if parsed.Status != "" && parsed.Status != "success" {
		return nil, &APIError{Call: call, StatusCode: response.StatusCode, Message: parsed.ErrorMessage()}
	}
	return &parsed, nil
}
