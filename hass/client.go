package hass

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fastjson"

	"github.com/jkaflik/hundesystem/internal/metrics"
)

const (
	resultDefaultTimeout      = time.Second * 10
	receiverDefaultBufferSize = 256
)

// Client is a websocket API client for Home Assistant
type Client struct {
	Host  string
	Token string

	conn     *websocket.Conn
	writeMtx sync.Mutex
	lastID   int

	receivers    map[int]*receiver
	receiversMtx sync.Mutex

	authenticated chan struct{}
	authFailed    chan struct{}
	authOnce      *sync.Once
	done          chan struct{}
	closeOnce     *sync.Once
	version       string

	receiverBufferSize int
	resultTimeout      time.Duration
	dialer             *websocket.Dialer
}

type receiver struct {
	ch   chan *fastjson.Value
	quit chan struct{}

	// stream receivers drop messages instead of stalling the receive loop.
	stream bool
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithReceiverBufferSize sets the buffer size of event subscription channels
func WithReceiverBufferSize(size int) ClientOption {
	return func(c *Client) {
		c.receiverBufferSize = size
	}
}

// WithResultTimeout sets how long a command waits for its result message
func WithResultTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.resultTimeout = timeout
	}
}

// WithDialer sets a custom websocket dialer
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

func NewClient(host, token string, options ...ClientOption) *Client {
	c := &Client{
		Host:  host,
		Token: token,
	}

	for _, option := range options {
		option(c)
	}

	return c
}

// WebsocketURL turns a Home Assistant base URL into its websocket endpoint.
func WebsocketURL(host string) string {
	host = strings.TrimSuffix(host, "/")
	switch {
	case strings.HasPrefix(host, "https://"):
		host = "wss://" + strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		host = "ws://" + strings.TrimPrefix(host, "http://")
	}
	return fmt.Sprintf("%s/api/websocket", host)
}

func (c *Client) Connect(ctx context.Context) error {
	dialer := c.dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, WebsocketURL(c.Host), http.Header{
		"User-Agent": []string{"hundesystem"},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Home Assistant websocket: %w", err)
	}

	c.writeMtx.Lock()
	c.conn = conn
	c.lastID = 0
	c.writeMtx.Unlock()

	c.receiversMtx.Lock()
	c.receivers = make(map[int]*receiver)
	c.receiversMtx.Unlock()

	c.authenticated = make(chan struct{})
	c.authFailed = make(chan struct{})
	c.authOnce = &sync.Once{}
	c.done = make(chan struct{})
	c.closeOnce = &sync.Once{}

	metrics.HassConnectionStatus.Set(1)

	go c.receive(conn, c.done)

	return nil
}

// WaitAuthenticated blocks until Home Assistant accepted the access token.
func (c *Client) WaitAuthenticated(ctx context.Context) error {
	if c.done == nil {
		return ErrNotConnected
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.authenticated:
		return nil
	case <-c.authFailed:
		return ErrAuthInvalid
	case <-c.done:
		select {
		case <-c.authFailed:
			return ErrAuthInvalid
		default:
			return ErrNotConnected
		}
	}
}

// Version returns the Home Assistant version reported during authentication.
func (c *Client) Version() string {
	return c.version
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

type subscribeEventsOptions struct {
	eventType EventType
}

// SubscribeEventsOption narrows an event subscription
type SubscribeEventsOption func(*subscribeEventsOptions)

// SubscribeEventsWithEventType subscribes to a single event type instead of all events
func SubscribeEventsWithEventType(eventType EventType) SubscribeEventsOption {
	return func(o *subscribeEventsOptions) {
		o.eventType = eventType
	}
}

// SubscribeEvents subscribes to the Home Assistant event bus. The returned channel
// is closed when ctx is done or the connection is lost.
func (c *Client) SubscribeEvents(ctx context.Context, options ...SubscribeEventsOption) (<-chan *EventMessage, error) {
	var opts subscribeEventsOptions
	for _, option := range options {
		option(&opts)
	}

	fields := map[string]any{}
	if opts.eventType != "" {
		fields["event_type"] = opts.eventType
	}

	bufferSize := receiverDefaultBufferSize
	if c.receiverBufferSize > 0 {
		bufferSize = c.receiverBufferSize
	}

	id, r, err := c.send(MessageTypeSubscribeEvents, fields, bufferSize, true)
	if err != nil {
		return nil, err
	}

	if _, err := c.awaitResult(ctx, id, r); err != nil {
		c.closeReceiver(id)

		log.Error().Err(err).Msg("Subscription failed")

		return nil, fmt.Errorf("subscription failed: %w", err)
	}

	log.Info().
		Int("id", id).
		Str("event_type", string(opts.eventType)).
		Msg("Subscribed to events")

	out := make(chan *EventMessage, bufferSize)
	done := c.done
	go func() {
		defer close(out)
		defer c.closeReceiver(id)

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case v := <-r.ch:
				msg, err := decodeEvent(v)
				if err != nil {
					log.Err(err).Int("id", id).Msg("Failed to decode event message")
					continue
				}

				metrics.HassEventsReceived.Inc()

				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func decodeEvent(v *fastjson.Value) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(v.MarshalTo(nil), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event message: %w", err)
	}
	if msg.Type != MessageTypeEvent {
		return nil, fmt.Errorf("unexpected message type on event subscription: %s", msg.Type)
	}

	return &msg, nil
}

// GetStates returns the state of every entity.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	v, err := c.command(ctx, MessageTypeGetStates, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get states: %w", err)
	}

	var states []State
	if v == nil {
		return states, nil
	}
	if err := json.Unmarshal(v.MarshalTo(nil), &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}

	log.Debug().Int("count", len(states)).Msg("Received states")

	return states, nil
}

// Services maps every loaded service domain to its service names.
type Services map[string][]string

// Has reports whether the domain is loaded.
func (s Services) Has(domain string) bool {
	_, ok := s[domain]
	return ok
}

// GetServices lists the service domains and services the host offers.
// It has no side effects and serves as the capability probe.
func (c *Client) GetServices(ctx context.Context) (Services, error) {
	v, err := c.command(ctx, MessageTypeGetServices, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}

	if v == nil {
		return nil, fmt.Errorf("empty get_services result")
	}

	obj, err := v.Object()
	if err != nil {
		return nil, fmt.Errorf("unexpected get_services result: %w", err)
	}

	services := make(Services)
	obj.Visit(func(domain []byte, value *fastjson.Value) {
		names := make([]string, 0)
		if inner, err := value.Object(); err == nil {
			inner.Visit(func(service []byte, _ *fastjson.Value) {
				names = append(names, string(service))
			})
		}
		services[string(domain)] = names
	})

	return services, nil
}

// CallService calls a Home Assistant service.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	fields := map[string]any{
		"domain":  domain,
		"service": service,
	}
	if len(data) > 0 {
		fields["service_data"] = data
	}

	if _, err := c.command(ctx, MessageTypeCallService, fields); err != nil {
		return fmt.Errorf("failed to call service %s.%s: %w", domain, service, err)
	}

	log.Debug().
		Str("domain", domain).
		Str("service", service).
		Msg("Called Home Assistant service")

	return nil
}

// Command sends an arbitrary websocket command and returns its result payload.
func (c *Client) Command(ctx context.Context, typ string, fields map[string]any) (*fastjson.Value, error) {
	return c.command(ctx, typ, fields)
}

func (c *Client) command(ctx context.Context, typ string, fields map[string]any) (*fastjson.Value, error) {
	id, r, err := c.send(typ, fields, 1, false)
	if err != nil {
		return nil, err
	}
	defer c.closeReceiver(id)

	return c.awaitResult(ctx, id, r)
}

// send assigns the next message ID and writes the command. IDs must reach Home
// Assistant in increasing order, so assignment and write share one lock.
func (c *Client) send(typ string, fields map[string]any, bufferSize int, stream bool) (int, *receiver, error) {
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	if c.conn == nil {
		return 0, nil, ErrNotConnected
	}

	c.lastID++
	id := c.lastID

	msg := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		msg[k] = v
	}
	msg["id"] = id
	msg["type"] = typ

	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal %s command: %w", typ, err)
	}

	r := &receiver{
		ch:     make(chan *fastjson.Value, bufferSize),
		quit:   make(chan struct{}),
		stream: stream,
	}

	c.receiversMtx.Lock()
	c.receivers[id] = r
	c.receiversMtx.Unlock()

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.receiversMtx.Lock()
		delete(c.receivers, id)
		c.receiversMtx.Unlock()

		return 0, nil, fmt.Errorf("failed to send message to Home Assistant: %w", err)
	}

	return id, r, nil
}

func (c *Client) awaitResult(ctx context.Context, id int, r *receiver) (*fastjson.Value, error) {
	resultTimeout := resultDefaultTimeout
	if c.resultTimeout > 0 {
		resultTimeout = c.resultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, resultTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("command %d: %w", id, ErrTimeout)
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotConnected
	case v := <-r.ch:
		if typ := string(v.GetStringBytes("type")); typ != MessageTypeResult {
			log.Error().Str("type", typ).Msg("Unexpected message type received waiting for a result")

			return nil, fmt.Errorf("unexpected message type received waiting for a result: %s", typ)
		}

		if !v.GetBool("success") {
			return nil, &Error{
				Kind:    string(v.GetStringBytes("error", "code")),
				Message: string(v.GetStringBytes("error", "message")),
			}
		}

		return v.Get("result"), nil
	}
}

func (c *Client) closeReceiver(id int) {
	c.receiversMtx.Lock()
	defer c.receiversMtx.Unlock()

	if r, ok := c.receivers[id]; ok {
		close(r.quit)
		delete(c.receivers, id)
	}
}

func (c *Client) receive(conn *websocket.Conn, done chan struct{}) {
	defer c.shutdown()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				log.Debug().Msg("Closing Home Assistant websocket receive message loop")
				return
			default:
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Msg("Home Assistant websocket connection closed")
				return
			}

			log.Err(err).Msg("Failed to read message from Home Assistant websocket")
			return
		}

		v, err := fastjson.ParseBytes(payload)
		if err != nil {
			log.Err(err).Msg("Received malformed message from Home Assistant")
			continue
		}

		typ := string(v.GetStringBytes("type"))

		if typ == "" {
			log.Error().Msg("Received message from Home Assistant without a type")
			continue
		}

		switch typ {
		case MessageTypeAuthRequired:
			c.authenticate()
		case MessageTypeAuthOK:
			c.version = string(v.GetStringBytes("ha_version"))
			c.authOnce.Do(func() { close(c.authenticated) })
			log.Info().Str("version", c.version).Msg("Authenticated with Home Assistant")
		case MessageTypeAuthInvalid:
			log.Error().Bytes(
				"message",
				v.GetStringBytes("message"),
			).Msg("Failed to authenticate with Home Assistant")
			close(c.authFailed)
			return
		default:
			c.handleMessage(v)
		}
	}
}

func (c *Client) handleMessage(v *fastjson.Value) {
	id := v.GetInt("id")

	if id == 0 {
		log.Warn().Msg("Received message from Home Assistant without an ID")
		return
	}

	c.receiversMtx.Lock()
	r := c.receivers[id]
	c.receiversMtx.Unlock()

	if r == nil {
		log.Debug().Int("id", id).Msg("Received message from Home Assistant with an unknown ID")
		return
	}

	if r.stream {
		select {
		case r.ch <- v:
		case <-r.quit:
		default:
			metrics.HassEventsDropped.Inc()
			log.Warn().Int("id", id).Msg("Dropped event from Home Assistant, subscriber is not keeping up")
		}
		return
	}

	select {
	case r.ch <- v:
	case <-r.quit:
	case <-c.done:
	}
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		metrics.HassConnectionStatus.Set(0)
	})
}

func (c *Client) Close() error {
	log.Info().Msg("Closing Home Assistant websocket connection")

	c.writeMtx.Lock()
	conn := c.conn
	c.conn = nil
	c.writeMtx.Unlock()

	if conn == nil {
		return nil
	}

	c.shutdown()
	return conn.Close()
}

func (c *Client) authenticate() {
	log.Info().Msg("Authenticating with Home Assistant")

	payload, err := json.Marshal(AuthMessage{Type: MessageTypeAuth, AccessToken: c.Token})
	if err != nil {
		log.Err(err).Msg("Failed to marshal auth message")
		return
	}

	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	if c.conn == nil {
		return
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Err(err).Msg("Failed to send auth message to Home Assistant")
		return
	}
}
