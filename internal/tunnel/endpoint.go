package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"holedeck/internal/constants"
	"holedeck/internal/crypto"
	"holedeck/internal/engine"
	"holedeck/internal/types"
	"holedeck/internal/utils"
)

// ErrPeerUnreachable is reported when the relay has no serving endpoint for
// the requested key.
var ErrPeerUnreachable = errors.New(constants.MsgPeerUnreachable)

// ErrRelayLost is reported through Faults when the relay connection drops.
var ErrRelayLost = errors.New("relay connection lost")

// Endpoint is one side of a tunnel, reached through a relay.
//
// In server mode it registers a key and forwards every relay stream to the
// local service at Host:Port. In client mode it connects to a key and serves
// it on a local listener at Host:Port.
type Endpoint struct {
	contract      engine.Contract
	relayURL      string
	skipTLSVerify bool
	httpClient    *http.Client

	// OnNotice receives relay notices in server mode.
	OnNotice func(msg string)

	mu       sync.Mutex
	started  bool
	ws       *websocket.Conn
	session  *yamux.Session
	listener net.Listener
	key      string
	secure   bool

	closed    chan struct{}
	closeOnce sync.Once
	faults    chan error
	faultOnce sync.Once
	wg        sync.WaitGroup
}

// NewEndpoint validates c without touching the network.
func NewEndpoint(c engine.Contract, relayURL string, skipTLSVerify bool) (*Endpoint, error) {
	if !c.Mode.Valid() {
		return nil, fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Port < constants.MinPort || c.Port > constants.MaxPort {
		return nil, fmt.Errorf("port number out of range: %d", c.Port)
	}
	if c.Mode == engine.ModeClient && !c.HasKey() {
		return nil, errors.New("connection key is required")
	}

	relayURL, autoSkip := utils.NormalizeRelayURL(relayURL)
	if relayURL == "" {
		return nil, errors.New("relay URL is required")
	}

	return &Endpoint{
		contract:      c,
		relayURL:      relayURL,
		skipTLSVerify: skipTLSVerify || autoSkip,
		httpClient:    &http.Client{Timeout: constants.DialTimeout},
		closed:        make(chan struct{}),
		faults:        make(chan error, 1),
	}, nil
}

// NewFactory builds Endpoints behind the engine adapter.
func NewFactory(relayURL string, skipTLSVerify bool) engine.Factory {
	return engine.FromConstructor(func(c engine.Contract) (any, error) {
		return NewEndpoint(c, relayURL, skipTLSVerify)
	})
}

// Ready connects to the relay. The endpoint keeps running after ctx ends;
// only Close stops it.
func (e *Endpoint) Ready(ctx context.Context) (engine.Info, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return engine.Info{}, errors.New("endpoint already started")
	}
	e.started = true
	e.mu.Unlock()

	var (
		info engine.Info
		err  error
	)
	if e.contract.Mode == engine.ModeServer {
		info, err = e.serve(ctx)
	} else {
		info, err = e.connect(ctx)
	}
	if err != nil {
		e.teardown()
		return engine.Info{}, err
	}

	e.wg.Add(1)
	go e.monitor()
	return info, nil
}

func (e *Endpoint) serve(ctx context.Context) (engine.Info, error) {
	reg, err := e.register(ctx)
	if err != nil {
		return engine.Info{}, err
	}

	wsURL := utils.WebSocketURL(e.relayURL, constants.EndpointServe+reg.Key, url.Values{"token": {reg.Token}})
	ws, resp, err := newDialer(e.skipTLSVerify).DialContext(ctx, wsURL, nil)
	if err != nil {
		e.unregister(reg)
		return engine.Info{}, dialError(resp, err)
	}
	ws.SetReadLimit(int64(constants.MaxWSMessageSize))

	session, err := yamux.Client(newWSConn(ws), yamuxConfig())
	if err != nil {
		ws.Close()
		e.unregister(reg)
		return engine.Info{}, fmt.Errorf("failed to create yamux session: %w", err)
	}

	if !e.attach(ws, session, nil, reg.Key, reg.Secure) {
		return engine.Info{}, errors.New("endpoint closed")
	}

	e.wg.Add(1)
	go e.acceptStreams()

	log.Printf("🔌 Serving %s:%d as %s", e.contract.Host, e.contract.Port, utils.KeyURL(reg.Key))
	return engine.Info{
		URL:     utils.KeyURL(reg.Key),
		Key:     reg.Key,
		Address: e.localAddr(),
		Secure:  reg.Secure,
	}, nil
}

func (e *Endpoint) register(ctx context.Context) (*types.RegisterResponse, error) {
	body, err := json.Marshal(types.RegisterRequest{Key: e.contract.Key, Secure: e.contract.Secure})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.relayURL+constants.EndpointRegister, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := e.httpClient
	if e.skipTLSVerify {
		client = &http.Client{Timeout: constants.DialTimeout, Transport: insecureTransport()}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er types.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxConfigBodySize))
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			return nil, errors.New(er.Error)
		}
		return nil, fmt.Errorf("relay returned %d", resp.StatusCode)
	}

	var reg types.RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return nil, fmt.Errorf("invalid relay response: %w", err)
	}
	return &reg, nil
}

// unregister releases a reservation that was never served. It runs on its
// own deadline since the start context is usually what failed.
func (e *Endpoint) unregister(reg *types.RegisterResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DialTimeout)
	defer cancel()

	u := e.relayURL + constants.EndpointRegister + "/" + url.PathEscape(reg.Key) + "?" + url.Values{"token": {reg.Token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return
	}

	client := e.httpClient
	if e.skipTLSVerify {
		client = &http.Client{Timeout: constants.DialTimeout, Transport: insecureTransport()}
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Printf("⚠️ Failed to release %s: %v", utils.KeyURL(reg.Key), err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		log.Printf("⚠️ Failed to release %s: relay returned %d", utils.KeyURL(reg.Key), resp.StatusCode)
	}
}

func (e *Endpoint) connect(ctx context.Context) (engine.Info, error) {
	key, err := utils.ParseConnectionKey(e.contract.Key)
	if err != nil {
		return engine.Info{}, fmt.Errorf("invalid connection key: %w", err)
	}

	wsURL := utils.WebSocketURL(e.relayURL, constants.EndpointConnect+key, nil)
	ws, resp, err := newDialer(e.skipTLSVerify).DialContext(ctx, wsURL, nil)
	if err != nil {
		return engine.Info{}, dialError(resp, err)
	}
	ws.SetReadLimit(int64(constants.MaxWSMessageSize))
	secure := resp.Header.Get(constants.HeaderSecureTunnel) == "1"

	session, err := yamux.Client(newWSConn(ws), yamuxConfig())
	if err != nil {
		ws.Close()
		return engine.Info{}, fmt.Errorf("failed to create yamux session: %w", err)
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(e.contract.Host, strconv.Itoa(e.contract.Port)))
	if err != nil {
		session.Close()
		ws.Close()
		return engine.Info{}, fmt.Errorf("failed to listen: %w", err)
	}

	if !e.attach(ws, session, listener, key, secure) {
		return engine.Info{}, errors.New("endpoint closed")
	}

	e.wg.Add(1)
	go e.acceptConns()

	log.Printf("🔌 Connected %s to %s", utils.KeyURL(key), listener.Addr())
	return engine.Info{
		URL:     utils.KeyURL(key),
		Key:     key,
		Address: listener.Addr().String(),
		Secure:  secure,
	}, nil
}

func dialError(resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrPeerUnreachable
		case http.StatusUnauthorized:
			return errors.New(constants.MsgUnauthorized)
		default:
			return fmt.Errorf("relay returned %d", resp.StatusCode)
		}
	}
	return fmt.Errorf("failed to connect to relay: %w", err)
}

// attach stores the live connection unless Close already ran.
func (e *Endpoint) attach(ws *websocket.Conn, session *yamux.Session, listener net.Listener, key string, secure bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	select {
	case <-e.closed:
		if listener != nil {
			listener.Close()
		}
		session.Close()
		ws.Close()
		return false
	default:
	}

	e.ws = ws
	e.session = session
	e.listener = listener
	e.key = key
	e.secure = secure
	return true
}

func (e *Endpoint) localAddr() string {
	return net.JoinHostPort(utils.DialHost(e.contract.Host), strconv.Itoa(e.contract.Port))
}

// acceptStreams handles relay-opened streams in server mode.
func (e *Endpoint) acceptStreams() {
	defer e.wg.Done()

	for {
		stream, err := e.session.AcceptStream()
		if err != nil {
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handleStream(stream)
		}()
	}
}

func (e *Endpoint) handleStream(stream net.Conn) {
	typeBuf := make([]byte, 1)
	if _, err := io.ReadFull(stream, typeBuf); err != nil {
		stream.Close()
		return
	}

	switch typeBuf[0] {
	case constants.StreamTypeLog:
		defer stream.Close()
		msg, err := io.ReadAll(io.LimitReader(stream, constants.MaxConfigBodySize))
		if err == nil && len(msg) > 0 {
			if e.OnNotice != nil {
				e.OnNotice(string(msg))
			} else {
				log.Printf("📡 Relay: %s", msg)
			}
		}
		return
	case constants.StreamTypeProxy:
	default:
		stream.Close()
		return
	}

	var remote io.ReadWriteCloser = stream
	if e.secure {
		sc, err := crypto.Secure(stream, crypto.RoleAcceptor, e.key)
		if err != nil {
			log.Printf("⚠️  E2EE handshake failed: %v", err)
			stream.Close()
			return
		}
		remote = sc
	}

	local, err := net.DialTimeout("tcp", e.localAddr(), constants.DialTimeout)
	if err != nil {
		log.Printf("⚠️  Local service %s unreachable: %v", e.localAddr(), err)
		remote.Close()
		return
	}

	Pipe(remote, local)
}

// acceptConns forwards local connections in client mode.
func (e *Endpoint) acceptConns() {
	defer e.wg.Done()

	for {
		conn, err := e.listener.Accept()
		if err != nil {
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.handleConn(conn)
		}()
	}
}

func (e *Endpoint) handleConn(conn net.Conn) {
	stream, err := e.session.OpenStream()
	if err != nil {
		conn.Close()
		return
	}

	var remote io.ReadWriteCloser = stream
	if e.secure {
		sc, err := crypto.Secure(stream, crypto.RoleDialer, e.key)
		if err != nil {
			log.Printf("⚠️  E2EE handshake failed: %v", err)
			stream.Close()
			conn.Close()
			return
		}
		remote = sc
	}

	Pipe(conn, remote)
}

// monitor reports a fault when the relay session dies on its own.
func (e *Endpoint) monitor() {
	defer e.wg.Done()

	select {
	case <-e.session.CloseChan():
	case <-e.closed:
		return
	}

	select {
	case <-e.closed:
		return
	default:
	}

	select {
	case e.faults <- ErrRelayLost:
	default:
	}
	e.teardown()
}

// Faults receives ErrRelayLost if the relay drops a ready endpoint. It is
// closed after Close completes.
func (e *Endpoint) Faults() <-chan error {
	return e.faults
}

// teardown releases the network resources. It does not wait.
func (e *Endpoint) teardown() {
	e.mu.Lock()
	listener, session, ws := e.listener, e.session, e.ws
	e.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	if session != nil {
		session.Close()
	}
	if ws != nil {
		ws.Close()
	}
}

// Close stops the endpoint and waits for its connections to drain or ctx to
// end.
func (e *Endpoint) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		close(e.closed)
		e.mu.Unlock()
		e.teardown()
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.faultOnce.Do(func() { close(e.faults) })
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func insecureTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = newDialer(true).TLSClientConfig
	return t
}
