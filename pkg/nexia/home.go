package nexia

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hvackit/nexia/internal/pkg/logging"
	"github.com/hvackit/nexia/internal/pkg/statefile"
)

const (
	maxLoginAttempts = 4
	requestTimeout   = 20 * time.Second

	devicesElement     = 0
	automationsElement = 1
)

// Config carries everything needed to open a session against one house.
type Config struct {
	Username   string
	Password   string
	Brand      string   // BrandNexia, BrandAsair or BrandTrane; default nexia
	HouseID    DeviceID // discovered via the session endpoint when empty
	DeviceName string   // name this client registers itself under
	StateFile  string   // device UUID persistence; defaulted per brand/user

	// RootURL overrides the brand host; used by tests.
	RootURL string

	// HTTPClient overrides the default transport.  Redirect following must
	// stay disabled so the session-expiry contract is observable.
	HTTPClient *http.Client

	// PollInterval and MaxPolls tune the fire-then-poll completion
	// protocol for asynchronous zone commands.
	PollInterval time.Duration
	MaxPolls     int
}

// Home is the root aggregate for one vendor account's site.  It owns the
// HTTP session (login handshake, expiry recovery, conditional refresh) and
// the thermostat/automation entity graph built from house snapshots.
type Home struct {
	cfg Config

	httpClient *http.Client
	log        *logrus.Entry

	mobileID          string
	apiKey            string
	loginAttemptsLeft int
	deviceUUID        string

	houseID    DeviceID
	name       string
	lastUpdate time.Time
	lastETag   string

	thermostats []*Thermostat
	automations []*Automation
}

// NewHome builds an unauthenticated Home.  Call Login before Update.
func NewHome(cfg Config) *Home {
	if cfg.Brand == "" {
		cfg.Brand = BrandNexia
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = DefaultDeviceName
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = defaultMaxPolls
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: requestTimeout,
			// Redirects are part of the protocol here: a 302 means
			// the session expired and must surface to us, not be
			// followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	return &Home{
		cfg:               cfg,
		httpClient:        client,
		log:               logging.Logger(nil).WithField("brand", cfg.Brand),
		loginAttemptsLeft: maxLoginAttempts,
		houseID:           cfg.HouseID,
	}
}

////////////////////////////////////////////////////////////////////////
// URL plumbing

func (h *Home) rootURL() string {
	if h.cfg.RootURL != "" {
		return h.cfg.RootURL
	}
	if root, ok := brandRootURLs[h.cfg.Brand]; ok {
		return root
	}
	return nexiaRootURL
}

func (h *Home) mobileURL() string {
	return h.rootURL() + "/mobile"
}

func (h *Home) signInURL() string {
	return h.mobileURL() + "/accounts/sign_in"
}

func (h *Home) sessionURL() string {
	return h.mobileURL() + "/session"
}

func (h *Home) housesURL() string {
	return fmt.Sprintf("%s/houses/%s", h.mobileURL(), h.houseID)
}

func (h *Home) phonesURL() string {
	return h.mobileURL() + "/phones"
}

func (h *Home) forgottenPasswordURL() string {
	return h.rootURL() + "/account/forgotten_credentials"
}

// ResolveURL pins a server-supplied href (action link, polling path) to the
// brand root host and scheme.  The vendor occasionally hands back links on
// the wrong host.
func (h *Home) ResolveURL(raw string) (string, error) {
	root, err := url.Parse(h.rootURL())
	if err != nil {
		return "", errors.Wrap(err, "parsing root url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.Wrapf(err, "parsing href %q", raw)
	}
	u.Scheme = root.Scheme
	u.Host = root.Host
	return u.String(), nil
}

////////////////////////////////////////////////////////////////////////
// Request plumbing

func (h *Home) sessionHeaders() http.Header {
	headers := http.Header{}
	headers.Set("X-AppVersion", appVersion)
	headers.Set("X-AssociatedBrand", h.cfg.Brand)
	if h.mobileID != "" {
		headers.Set("X-MobileId", h.mobileID)
	}
	if h.apiKey != "" {
		headers.Set("X-ApiKey", h.apiKey)
	}
	return headers
}

// doRequest performs a single HTTP exchange and drains the body.  No retry
// or status interpretation happens here.
func (h *Home) doRequest(ctx context.Context, method, requestURL string, payload interface{}, extra http.Header) (*http.Response, []byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, errors.Wrap(err, "encoding request payload")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "building %s %s", method, requestURL)
	}
	for key, values := range h.sessionHeaders() {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for key, values := range extra {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	h.log.Debugf("%s: calling url %s", method, requestURL)
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s %s", method, requestURL)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading response from %s", requestURL)
	}
	h.log.Debugf("%s: response from url %s: status: %d", method, requestURL, resp.StatusCode)

	return resp, respBody, nil
}

// request performs an authenticated exchange with the documented
// session-expiry recovery: a 302 response triggers one re-login and one
// retry of the identical request.  A second 302 propagates as an error.
func (h *Home) request(ctx context.Context, method, requestURL string, payload interface{}, extra http.Header) (*http.Response, []byte, error) {
	resp, body, err := h.doRequest(ctx, method, requestURL, payload, extra)
	if err != nil {
		return nil, nil, err
	}

	if resp.StatusCode == http.StatusFound {
		h.log.Debugf("%s response returned code 302, re-attempting login and resending request", method)
		if err := h.Login(ctx); err != nil {
			return nil, nil, err
		}
		resp, body, err = h.doRequest(ctx, method, requestURL, payload, extra)
		if err != nil {
			return nil, nil, err
		}
		if resp.StatusCode == http.StatusFound {
			return nil, nil, &HTTPError{StatusCode: resp.StatusCode, URL: requestURL, Body: string(body)}
		}
	}

	return resp, body, nil
}

// post issues an authenticated POST and requires a 2xx response.
func (h *Home) post(ctx context.Context, requestURL string, payload interface{}) ([]byte, error) {
	resp, body, err := h.request(ctx, http.MethodPost, requestURL, payload, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: requestURL, Body: string(body)}
	}
	return body, nil
}

// get issues an authenticated GET and requires a 2xx response.
func (h *Home) get(ctx context.Context, requestURL string) ([]byte, error) {
	resp, body, err := h.request(ctx, http.MethodGet, requestURL, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: requestURL, Body: string(body)}
	}
	return body, nil
}

// getConditional issues a GET with If-None-Match when an ETag is known.
// notModified reports a 304, which is control flow, not an error.
func (h *Home) getConditional(ctx context.Context, requestURL, etag string) (body []byte, newETag string, notModified bool, err error) {
	extra := http.Header{}
	if etag != "" {
		extra.Set("If-None-Match", etag)
	}
	resp, body, err := h.request(ctx, http.MethodGet, requestURL, nil, extra)
	if err != nil {
		return nil, "", false, err
	}
	if resp.StatusCode == http.StatusNotModified {
		return nil, etag, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", false, &HTTPError{StatusCode: resp.StatusCode, URL: requestURL, Body: string(body)}
	}
	return body, resp.Header.Get("Etag"), false, nil
}

////////////////////////////////////////////////////////////////////////
// Session methods

// Login performs the sign-in handshake and stores the mobile session id and
// API key.  The attempt budget protects the account from a vendor-side
// lockout: once exhausted, Login fails without touching the network.
func (h *Home) Login(ctx context.Context) error {
	if h.loginAttemptsLeft <= 0 {
		return &AuthenticationError{
			Message: fmt.Sprintf("failed to login after %d attempts, any more attempts may lock your account", maxLoginAttempts),
		}
	}

	statePath := h.cfg.StateFile
	if statePath == "" {
		statePath = fmt.Sprintf("%s_config_%s.conf", h.cfg.Brand, h.cfg.Username)
	}
	deviceUUID, err := statefile.LoadOrCreateUUID(statePath)
	if err != nil {
		return errors.Wrap(err, "loading device uuid")
	}
	h.deviceUUID = deviceUUID

	payload := map[string]interface{}{
		"login":         h.cfg.Username,
		"password":      h.cfg.Password,
		"children":      []interface{}{},
		"childSchemas":  []interface{}{},
		"commitModel":   nil,
		"nextHref":      nil,
		"device_uuid":   h.deviceUUID,
		"device_name":   h.cfg.DeviceName,
		"app_version":   appVersion,
		"is_commercial": false,
	}

	resp, body, err := h.doRequest(ctx, http.MethodPost, h.signInURL(), payload, nil)
	if err != nil {
		return err
	}

	if location := h.redirectTarget(resp); location != "" {
		if location == h.forgottenPasswordURL() {
			return &AuthenticationError{
				Message: fmt.Sprintf("failed to login, getting redirected to %s; try to login manually on the website", location),
			}
		}
		return &AuthenticationError{
			Message: fmt.Sprintf("failed to login, unexpectedly redirected to %s", location),
		}
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusFound {
		h.loginAttemptsLeft--
		return &AuthenticationError{
			Message: fmt.Sprintf("failed to login\n%s", string(body)),
		}
	}

	var signIn struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Result  struct {
			MobileID DeviceID `json:"mobile_id"`
			APIKey   string   `json:"api_key"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &signIn); err != nil {
		return &ProtocolError{Message: fmt.Sprintf("malformed sign-in response: %v", err)}
	}
	if !signIn.Success {
		errorText := signIn.Error
		if errorText == "" {
			errorText = "Unknown Error"
		}
		return &AuthenticationError{Message: fmt.Sprintf("failed to login, %s", errorText)}
	}

	h.mobileID = signIn.Result.MobileID.String()
	h.apiKey = signIn.Result.APIKey
	// Tag all further logging with the session id.
	h.log = logging.Logger(logging.WithSessionID(context.Background(), h.mobileID)).
		WithField("brand", h.cfg.Brand)
	h.log.Debug("login succeeded")

	if h.houseID == "" {
		return h.findHouseID(ctx)
	}
	return nil
}

// redirectTarget resolves the Location header of a redirect response against
// the request URL; empty when the response is not a redirect.
func (h *Home) redirectTarget(resp *http.Response) string {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return ""
	}
	location, err := resp.Location()
	if err != nil {
		return ""
	}
	return location.String()
}

// findHouseID discovers the house from the session-init response when no
// house id was configured, and caches the house name.
func (h *Home) findHouseID(ctx context.Context) error {
	body, err := h.post(ctx, h.sessionURL(), map[string]interface{}{
		"app_version": appVersion,
		"device_uuid": h.deviceUUID,
	})
	if err != nil {
		return errors.Wrap(err, "failed to get house id JSON, session probably timed out")
	}

	var session struct {
		Result struct {
			Links struct {
				Child []struct {
					Data struct {
						ID   DeviceID `json:"id"`
						Name string   `json:"name"`
					} `json:"data"`
				} `json:"child"`
			} `json:"_links"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return &ProtocolError{Message: fmt.Sprintf("malformed session response: %v", err)}
	}
	if len(session.Result.Links.Child) == 0 || session.Result.Links.Child[0].Data.ID == "" {
		return &ProtocolError{Message: "no house id in the session response"}
	}

	h.houseID = session.Result.Links.Child[0].Data.ID
	h.name = session.Result.Links.Child[0].Data.Name
	return nil
}

////////////////////////////////////////////////////////////////////////
// Update

// Update fetches the house snapshot and reconciles the entity graph.  The
// returned bool is false when nothing happened: not yet authenticated, or
// the server answered 304 to our conditional request.
func (h *Home) Update(ctx context.Context) (bool, error) {
	if h.mobileID == "" {
		// not yet authenticated
		return false, nil
	}

	body, etag, notModified, err := h.getConditional(ctx, h.housesURL(), h.lastETag)
	if err != nil {
		return false, errors.Wrap(err, "failed to get house JSON")
	}
	if notModified {
		h.log.Debug("update returned 304")
		return false, nil
	}

	if err := h.applyHouseJSON(body); err != nil {
		return false, err
	}
	h.lastETag = etag
	return true, nil
}

// UpdateFromJSON reconciles the entity graph from a house snapshot fetched
// externally (offline captures, tests).
func (h *Home) UpdateFromJSON(body []byte) error {
	return h.applyHouseJSON(body)
}

func (h *Home) applyHouseJSON(body []byte) error {
	var envelope struct {
		Result struct {
			Name  string `json:"name"`
			Links struct {
				Child []struct {
					Data json.RawMessage `json:"data"`
				} `json:"child"`
			} `json:"_links"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &ProtocolError{Message: fmt.Sprintf("malformed house response: %v", err)}
	}
	children := envelope.Result.Links.Child
	if len(children) <= automationsElement {
		return &ProtocolError{Message: "nothing in the house JSON"}
	}

	devices, err := extractItems(children[devicesElement].Data)
	if err != nil {
		return &ProtocolError{Message: fmt.Sprintf("malformed device list: %v", err)}
	}
	automations, err := extractItems(children[automationsElement].Data)
	if err != nil {
		return &ProtocolError{Message: fmt.Sprintf("malformed automation list: %v", err)}
	}

	h.name = envelope.Result.Name
	h.updateDevices(flattenDeviceGroups(devices))
	h.updateAutomations(automations)
	return nil
}

func (h *Home) updateDevices(children []rawDocument) {
	h.lastUpdate = time.Now()

	if h.thermostats == nil {
		h.thermostats = buildWrappers(children, func(rec rawDocument) (*Thermostat, bool) {
			thermostat := newThermostat(h, rec)
			if len(thermostat.zones) == 0 {
				// No zones: likely an XL624, which is not supported.
				h.log.Debugf("skipping zoneless thermostat %s", thermostat.ID())
				return nil, false
			}
			return thermostat, true
		})
		return
	}

	reconcile(h.thermostats, children)
}

func (h *Home) updateAutomations(records []rawDocument) {
	h.lastUpdate = time.Now()

	if h.automations == nil {
		h.automations = buildWrappers(records, func(rec rawDocument) (*Automation, bool) {
			return newAutomation(h, rec), true
		})
		return
	}

	reconcile(h.automations, records)
}

// extractItems unwraps a device-group payload that is either a bare array or
// an object with an "items" key.
func extractItems(raw json.RawMessage) ([]rawDocument, error) {
	var records []rawDocument
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}
	var wrapped struct {
		Items []rawDocument `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, err
	}
	return wrapped.Items, nil
}

// flattenDeviceGroups expands "group" nodes (multi-thermostat grouped
// installs such as paired XL850s) one level, keeping plain thermostat
// records as-is.
func flattenDeviceGroups(records []rawDocument) []rawDocument {
	var children []rawDocument
	for _, rec := range records {
		typ, hasType := rec.stringKey("type")
		switch {
		case !hasType || strings.Contains(typ, "thermostat"):
			children = append(children, rec)
		case typ == "group":
			var links struct {
				Links struct {
					Child []struct {
						Data rawDocument `json:"data"`
					} `json:"child"`
				} `json:"_links"`
			}
			raw, _ := json.Marshal(rec)
			if err := json.Unmarshal(raw, &links); err != nil {
				continue
			}
			for _, child := range links.Links.Child {
				if child.Data != nil {
					children = append(children, child.Data)
				}
			}
		}
	}
	return children
}

////////////////////////////////////////////////////////////////////////
// Entity access

// Name returns the house display name.
func (h *Home) Name() string {
	return h.name
}

// LastUpdate reports when the last successful full update completed; the
// zero time when never updated.
func (h *Home) LastUpdate() time.Time {
	return h.lastUpdate
}

// HouseID returns the configured or discovered house identifier.
func (h *Home) HouseID() DeviceID {
	return h.houseID
}

// Thermostats returns the thermostat wrappers in snapshot order.
func (h *Home) Thermostats() []*Thermostat {
	return h.thermostats
}

// ThermostatIDs lists the identifiers of all known thermostats.
func (h *Home) ThermostatIDs() []DeviceID {
	ids := make([]DeviceID, 0, len(h.thermostats))
	for _, t := range h.thermostats {
		ids = append(ids, t.ID())
	}
	return ids
}

// ThermostatByID finds a thermostat by its vendor id.
func (h *Home) ThermostatByID(id DeviceID) (*Thermostat, error) {
	for _, t := range h.thermostats {
		if t.ID() == id {
			return t, nil
		}
	}
	return nil, &NotFoundError{Kind: "Thermostat", ID: id.String(), ValidIDs: idStrings(h.ThermostatIDs())}
}

// Automations returns the automation wrappers in snapshot order.
func (h *Home) Automations() []*Automation {
	return h.automations
}

// AutomationIDs lists the identifiers of all known automations.
func (h *Home) AutomationIDs() []DeviceID {
	ids := make([]DeviceID, 0, len(h.automations))
	for _, a := range h.automations {
		ids = append(ids, a.ID())
	}
	return ids
}

// AutomationByID finds an automation by its vendor id.
func (h *Home) AutomationByID(id DeviceID) (*Automation, error) {
	for _, a := range h.automations {
		if a.ID() == id {
			return a, nil
		}
	}
	return nil, &NotFoundError{Kind: "Automation", ID: id.String(), ValidIDs: idStrings(h.AutomationIDs())}
}

// PhoneIDs lists the mobile phone ids registered with the account.
func (h *Home) PhoneIDs(ctx context.Context) ([]DeviceID, error) {
	body, err := h.get(ctx, h.phonesURL())
	if err != nil {
		return nil, err
	}
	var phones struct {
		Result struct {
			Items []struct {
				PhoneID DeviceID `json:"phone_id"`
			} `json:"items"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &phones); err != nil {
		return nil, &ProtocolError{Message: fmt.Sprintf("malformed phones response: %v", err)}
	}
	ids := make([]DeviceID, 0, len(phones.Result.Items))
	for _, item := range phones.Result.Items {
		ids = append(ids, item.PhoneID)
	}
	return ids, nil
}

func idStrings(ids []DeviceID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
