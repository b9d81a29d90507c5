package wsstream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"nuha.dev/cartsync/internal/fanout"
	"nuha.dev/cartsync/internal/presence"
)

const (
	CCartConnect string = "cart-connect"
	CGetAllCarts string = "get-all-carts"
	EvAllCarts   string = "all-carts"
	EvError      string = "error"
)

const (
	NEW_CONNECTION    string = "new_connection"
	CART_CONNECTED    string = "cart_connected"
	CART_DISCONNECTED string = "cart_disconnected"
	IDENTIFY_ERROR    string = "identify_error"
)

type Config struct {
	ListenAddr    string
	ProxyProtocol bool
	// IdleTimeout applies to identified connections only: a cart that
	// stops sending frames is cut, then demoted by the liveness monitor.
	IdleTimeout time.Duration
}

// Server owns the push channel: every accepted connection is an observer
// of the event stream, and may additionally identify itself as a cart.
type Server struct {
	server *http.Server
	config Config
	pres   *presence.Store
	hub    *fanout.Hub
	reg    *registry
	cid    uint64
	log    log.Logger
}

func NewServer(pres *presence.Store, hub *fanout.Hub, config Config) *Server {
	s := &Server{config: config, pres: pres, hub: hub, reg: newRegistry()}
	s.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        s,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "wsstream").Value()
	return s
}

func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	var l net.Listener = ln
	if s.config.ProxyProtocol {
		l = &proxyproto.Listener{Listener: ln}
	}
	s.log.Info().Str("addr", s.config.ListenAddr).Bool("proxy_protocol", s.config.ProxyProtocol).Msg("starting stream server")
	return s.server.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type inboundFrame struct {
	Type   string `json:"type"`
	CartID string `json:"cartId"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type snapshotFrame struct {
	Type  string           `json:"type"`
	Carts []presence.State `json:"carts"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	cid := atomic.AddUint64(&s.cid, 1)
	wc := &wsClient{cid: cid, srv: s, c: c, out: make(chan []byte, 16), done: make(chan struct{})}
	wc.log = s.log
	wc.log.Context = log.NewContext(s.log.Context).Uint64("cid", cid).Value()
	wc.log.Info().Str("event", NEW_CONNECTION).Str("remote", r.RemoteAddr).Msg("")

	s.hub.Subscribe(wc)
	go wc.writeLoop()
	wc.readLoop()

	wc.shutdown()
	s.hub.Unsubscribe(wc)
	wc.handleDisconnect()
	c.Close(websocket.StatusNormalClosure, "")
}

type wsClient struct {
	cid     uint64
	srv     *Server
	c       *websocket.Conn
	out     chan []byte
	done    chan struct{}
	closed  uint32
	dropped uint64
	cartID  string
	log     log.Logger
}

// Push implements fanout.Subscriber. Never blocks: a slow observer loses
// events and reconciles via a snapshot request.
func (wc *wsClient) Push(data []byte) bool {
	if atomic.LoadUint32(&wc.closed) == 1 {
		return true
	}
	select {
	case wc.out <- data:
	default:
		atomic.AddUint64(&wc.dropped, 1)
	}
	return false
}

func (wc *wsClient) shutdown() {
	if atomic.CompareAndSwapUint32(&wc.closed, 0, 1) {
		close(wc.done)
	}
}

func (wc *wsClient) writeLoop() {
	for {
		select {
		case <-wc.done:
			return
		case d := <-wc.out:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := wc.c.Write(ctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				wc.log.Debug().Err(err).Msg("error while writing to connection")
				wc.shutdown()
				return
			}
		}
	}
}

func (wc *wsClient) readLoop() {
	for {
		ctx := context.Background()
		var cancel context.CancelFunc
		if wc.cartID != "" && wc.srv.config.IdleTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, wc.srv.config.IdleTimeout)
		}
		var f inboundFrame
		err := wsjson.Read(ctx, wc.c, &f)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			return
		}
		switch f.Type {
		case CCartConnect:
			wc.identify(f.CartID)
		case CGetAllCarts:
			wc.sendSnapshot()
		default:
			wc.sendError("unknown message type")
		}
	}
}

func (wc *wsClient) identify(cartID string) {
	if cartID == "" {
		wc.sendError("Cart ID required")
		return
	}
	now := time.Now().UTC()
	st, changed, err := wc.srv.pres.SetOnline(context.Background(), cartID, true, now)
	if err != nil {
		wc.log.Warn().Str("event", IDENTIFY_ERROR).Str("cart_id", cartID).Err(err).Msg("")
		if errors.Is(err, presence.ErrStoreUnavailable) {
			wc.sendError("Connection failed")
		} else {
			wc.sendError("Cart not found")
		}
		return
	}
	if wc.cartID != "" && wc.cartID != cartID {
		// re-identify: drop the old binding silently, the monitor will
		// demote the abandoned cart
		wc.srv.reg.unbind(wc.cartID, wc.cid)
	}
	prev, taken := wc.srv.reg.bound(cartID)
	wc.srv.reg.bind(cartID, wc.cid)
	wc.cartID = cartID
	wc.log.Info().Str("event", CART_CONNECTED).Str("cart_id", cartID).Bool("takeover", taken && prev != wc.cid).Msg("")
	if changed {
		wc.srv.hub.PublishStatus(context.Background(), fanout.StatusChanged{CartID: st.CartID, Name: st.Name, Online: true, LastSeen: st.LastSeen})
	}
}

// handleDisconnect flips the cart offline unless another live connection
// has taken over the binding in the meantime.
func (wc *wsClient) handleDisconnect() {
	if wc.cartID == "" {
		return
	}
	if !wc.srv.reg.unbind(wc.cartID, wc.cid) {
		return
	}
	now := time.Now().UTC()
	st, changed, err := wc.srv.pres.SetOnline(context.Background(), wc.cartID, false, now)
	if err != nil {
		wc.log.Error().Err(err).Str("cart_id", wc.cartID).Msg("presence update failed on disconnect")
		return
	}
	wc.log.Info().Str("event", CART_DISCONNECTED).Str("cart_id", wc.cartID).Int("bound", wc.srv.reg.size()).Msg("")
	if changed {
		wc.srv.hub.PublishStatus(context.Background(), fanout.StatusChanged{CartID: st.CartID, Name: st.Name, Online: false, LastSeen: st.LastSeen})
	}
}

func (wc *wsClient) sendSnapshot() {
	d, err := json.Marshal(snapshotFrame{Type: EvAllCarts, Carts: wc.srv.pres.Snapshot()})
	if err != nil {
		wc.log.Error().Err(err).Msg("snapshot marshal failed")
		return
	}
	wc.Push(d)
}

func (wc *wsClient) sendError(msg string) {
	d, _ := json.Marshal(errorFrame{Type: EvError, Message: msg})
	wc.Push(d)
}
