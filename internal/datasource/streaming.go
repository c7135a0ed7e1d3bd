// Package datasource implements the update processors that feed flag and
// segment data into the SDK, the default one being the WebSocket streaming
// channel to the feature flag center.
package datasource

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/featbit/go-server-sdk/datamodel"
	"github.com/featbit/go-server-sdk/interfaces"
	"github.com/featbit/go-server-sdk/internal"
)

const (
	pingInterval = 10 * time.Second

	// server close code meaning the token or secret was rejected
	closeCodeInvalidRequest = 4003
)

// what the read loop decided after handling one message
const (
	actionContinue = iota
	actionReconnect
	actionStop
)

// NoticeSink receives the flag-change notices derived from processed
// payloads.
type NoticeSink func(notice interfaces.Notice)

// Streaming is the default update processor. It keeps a WebSocket open to the
// feature flag center, applies full and patch payloads to the data storage,
// and reconnects with exponential backoff when the connection drops.
type Streaming struct {
	provider     interfaces.DataUpdateStatusProvider
	streamingURI string
	envSecret    string
	headers      http.Header
	dialer       *websocket.Dialer
	strategy     *backoffJitterStrategy
	noticeSink   NoticeSink
	loggers      ldlog.Loggers

	closeWhenReady chan<- struct{}
	readySignaled  atomic.Bool

	halt      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
	pingTask  *internal.RepeatableTask

	connLock  sync.Mutex
	writeLock sync.Mutex
	conn      *websocket.Conn
}

// NewStreaming creates a streaming processor. streamingURI is the full
// streaming endpoint; the token query parameters are appended per connection
// attempt.
func NewStreaming(
	provider interfaces.DataUpdateStatusProvider,
	streamingURI string,
	envSecret string,
	headers http.Header,
	dialer *websocket.Dialer,
	firstRetryDelay time.Duration,
	noticeSink NoticeSink,
	loggers ldlog.Loggers,
) *Streaming {
	s := &Streaming{
		provider:     provider,
		streamingURI: streamingURI,
		envSecret:    envSecret,
		headers:      headers,
		dialer:       dialer,
		strategy:     newBackoffJitterStrategy(firstRetryDelay),
		noticeSink:   noticeSink,
		loggers:      loggers,
		halt:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	s.pingTask = internal.NewRepeatableTask("streaming ping", pingInterval, s.sendPing, loggers)
	return s
}

// Start opens the channel. closeWhenReady is closed after the first complete
// payload has been stored, or once the processor has permanently failed.
func (s *Streaming) Start(closeWhenReady chan<- struct{}) {
	s.closeWhenReady = closeWhenReady
	s.pingTask.Start()
	go s.run()
}

// IsInitialized reports whether a complete payload has been received and
// stored.
func (s *Streaming) IsInitialized() bool {
	return s.readySignaled.Load() && s.provider.Initialized()
}

// Close shuts the channel down permanently and moves the state to OFF.
func (s *Streaming) Close() error {
	s.closeOnce.Do(func() {
		s.loggers.Info("streaming is stopping...")
		close(s.halt)
		s.provider.UpdateState(interfaces.NewNormalOffState())
		if conn := s.currentConn(); conn != nil {
			s.writeLock.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			s.writeLock.Unlock()
			_ = conn.Close()
		}
		s.pingTask.Stop()
		<-s.loopDone
	})
	return nil
}

func (s *Streaming) run() {
	defer func() {
		if r := recover(); r != nil {
			// nothing above this loop retries; report the failure and go dark
			s.loggers.Errorf("streaming WebSocket unexpected error: %v", r)
			s.provider.UpdateState(interfaces.NewErrorOffState(interfaces.UnknownError, fmt.Sprintf("%v", r)))
		}
		// a permanent failure on the very first attempt must not leave the
		// client waiting forever
		s.signalReady()
		close(s.loopDone)
		s.loggers.Debug("streaming WebSocket process is over")
	}()

	for {
		select {
		case <-s.halt:
			return
		default:
		}

		conn, err := s.connect()
		if err != nil {
			s.loggers.Warnf("streaming WebSocket failure: %s", err)
			s.provider.UpdateState(interfaces.NewInterruptedState(interfaces.NetworkError, err.Error()))
			if !s.sleep(s.strategy.nextDelay()) {
				return
			}
			continue
		}

		s.strategy.setGoodRun()
		s.setConn(conn)
		reconnect := s.consumeGuarded(conn)
		s.setConn(nil)
		_ = conn.Close()

		if !reconnect {
			return
		}
		if !s.sleep(s.strategy.nextDelay()) {
			return
		}
	}
}

// connect dials the streaming endpoint with a fresh token and sends the
// data-sync bootstrap carrying the latest stored version.
func (s *Streaming) connect() (*websocket.Conn, error) {
	uri := s.streamingURI + "?token=" + BuildToken(s.envSecret) + "&type=server"
	s.loggers.Debug("streaming WebSocket is connecting...")
	conn, resp, err := s.dialer.Dial(uri, s.headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	version := s.provider.GetLatestVersion()
	if version < 0 {
		version = 0
	}
	s.loggers.Debug("asking data updating on WebSocket")
	if err := s.write(conn, datamodel.NewDataSyncMessage(version)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// consumeGuarded runs the read loop for one connection. A panic while
// processing a message counts as a recoverable runtime error: the state moves
// to INTERRUPTED, the socket is dropped and a new connection is attempted.
func (s *Streaming) consumeGuarded(conn *websocket.Conn) (reconnect bool) {
	defer func() {
		if r := recover(); r != nil {
			s.loggers.Errorf("streaming WebSocket unexpected error: %v", r)
			s.provider.UpdateState(interfaces.NewInterruptedState(interfaces.RuntimeError, fmt.Sprintf("%v", r)))
			reconnect = true
		}
	}()
	return s.consume(conn)
}

// consume reads messages until the connection ends, and reports whether the
// processor should reconnect.
func (s *Streaming) consume(conn *websocket.Conn) bool {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return s.handleReadError(err)
		}
		switch s.handleMessage(raw) {
		case actionContinue:
		case actionReconnect:
			return true
		case actionStop:
			return false
		}
	}
}

func (s *Streaming) handleReadError(err error) (reconnect bool) {
	select {
	case <-s.halt:
		// the error is our own shutdown
		return false
	default:
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == closeCodeInvalidRequest {
			s.loggers.Errorf("streaming WebSocket closed: %s", interfaces.RequestInvalidError)
			s.provider.UpdateState(interfaces.NewErrorOffState(interfaces.RequestInvalidError, interfaces.RequestInvalidError))
			return false
		}
		message := closeErr.Text
		if message == "" {
			message = interfaces.UnknownCloseCode
		}
		s.loggers.Warnf("streaming WebSocket closed with code %d", closeErr.Code)
		s.provider.UpdateState(interfaces.NewInterruptedState(interfaces.UnknownCloseCode, message))
		return true
	}

	s.loggers.Warnf("streaming WebSocket failure: %s", err)
	s.provider.UpdateState(interfaces.NewInterruptedState(interfaces.WebsocketError, err.Error()))
	return true
}

func (s *Streaming) handleMessage(raw []byte) int {
	msg, err := datamodel.ParseStreamingMessage(raw)
	if err != nil {
		// the server is speaking a protocol we don't understand; retrying
		// would just replay the failure
		s.loggers.Errorf("streaming WebSocket received invalid data: %s", err)
		s.provider.UpdateState(interfaces.NewErrorOffState(interfaces.DataInvalidError, err.Error()))
		return actionStop
	}
	if !msg.IsValidDataSync() {
		// pong replies and unknown message types
		return actionContinue
	}
	if s.processData(msg.Data) {
		return actionContinue
	}
	// the status provider has already recorded the storage failure
	return actionReconnect
}

// processData applies one payload to the storage and, on success, reports OK
// and emits change notices.
func (s *Streaming) processData(payload *datamodel.SyncPayload) bool {
	s.loggers.Debug("streaming WebSocket is processing data")
	version, allData := payload.ToStorageData()

	var ok bool
	if payload.EventType == datamodel.EventTypePatch {
		ok = s.applyPatch(allData)
	} else {
		ok = s.provider.Init(allData, version)
	}
	if ok {
		s.signalReady()
		s.provider.UpdateState(interfaces.NewOKState())
		s.emitChangeNotices(payload)
		s.loggers.Debug("processing data is well done")
	}
	return ok
}

// applyPatch upserts items in ascending version order, stopping at the first
// storage failure.
func (s *Streaming) applyPatch(allData map[datamodel.Category]map[string]datamodel.Item) bool {
	for _, category := range datamodel.AllCategories {
		for _, item := range datamodel.SortItemsByTimestamp(allData[category]) {
			if !s.provider.Upsert(category, item.GetID(), item, item.GetTimestamp()) {
				return false
			}
		}
	}
	return true
}

// emitChangeNotices publishes a flag-change notice for every flag in the
// payload, and for every stored flag that references a segment in the
// payload.
func (s *Streaming) emitChangeNotices(payload *datamodel.SyncPayload) {
	if s.noticeSink == nil {
		return
	}
	emitted := make(map[string]struct{})
	for i := range payload.FeatureFlags {
		key := payload.FeatureFlags[i].Key
		if _, done := emitted[key]; done {
			continue
		}
		emitted[key] = struct{}{}
		s.noticeSink(interfaces.FlagChangedNotice{FlagKey: key})
	}
	if len(payload.Segments) == 0 {
		return
	}
	flags := s.provider.GetAll(datamodel.FeatureFlags)
	for i := range payload.Segments {
		for _, key := range datamodel.FlagsReferencingSegment(flags, payload.Segments[i].ID) {
			if _, done := emitted[key]; done {
				continue
			}
			emitted[key] = struct{}{}
			s.noticeSink(interfaces.FlagChangedNotice{FlagKey: key})
		}
	}
}

func (s *Streaming) sendPing() {
	if conn := s.currentConn(); conn != nil {
		_ = s.write(conn, datamodel.PingMessage())
	}
}

func (s *Streaming) write(conn *websocket.Conn, data []byte) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Streaming) signalReady() {
	if s.readySignaled.CompareAndSwap(false, true) && s.closeWhenReady != nil {
		close(s.closeWhenReady)
	}
}

func (s *Streaming) setConn(conn *websocket.Conn) {
	s.connLock.Lock()
	s.conn = conn
	s.connLock.Unlock()
}

func (s *Streaming) currentConn() *websocket.Conn {
	s.connLock.Lock()
	defer s.connLock.Unlock()
	return s.conn
}

// sleep waits for the delay, returning false if the processor was closed in
// the meantime.
func (s *Streaming) sleep(delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.halt:
		return false
	}
}
