// Package redisstub runs an in-process RESP server that understands the
// subset of Redis commands used by the probe cache, the transfer queue and the
// upload rate limiter.
package redisstub

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password  string
	EnableTLS bool
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	streams  map[string]*redisStream
	kv       map[string]*kvEntry
	commands map[string]int
	closed   chan struct{}
	certPEM  []byte
}

type redisStream struct {
	entries []streamEntry
	groups  map[string]*groupState
	seq     int64
}

type streamEntry struct {
	id     string
	values []string
}

type groupState struct {
	nextIndex int
	pending   map[string]struct{}
}

type kvEntry struct {
	value  string
	expiry time.Time
}

func (e *kvEntry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && now.After(e.expiry)
}

func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:     opts,
		streams:  make(map[string]*redisStream),
		kv:       make(map[string]*kvEntry),
		commands: make(map[string]int),
		closed:   make(chan struct{}),
	}
	addr := "127.0.0.1:0"
	var ln net.Listener
	var err error
	if opts.EnableTLS {
		certPEM, cert, certErr := generateSelfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		server.certPEM = certPEM
		ln, err = tls.Listen("tcp", addr, &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

// CertPEM returns the self-signed certificate when TLS is enabled.
func (s *Server) CertPEM() []byte {
	return s.certPEM
}

// CommandCount reports how many times cmd was received.
func (s *Server) CommandCount(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[strings.ToUpper(cmd)]
}

// StreamLen returns the number of entries appended to stream.
func (s *Server) StreamLen(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strm, ok := s.streams[stream]; ok {
		return len(strm.entries)
	}
	return 0
}

// StreamValues returns the field/value pairs of every entry in stream.
func (s *Server) StreamValues(stream string) []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm, ok := s.streams[stream]
	if !ok {
		return nil
	}
	out := make([]map[string]string, 0, len(strm.entries))
	for _, entry := range strm.entries {
		values := make(map[string]string, len(entry.values)/2)
		for i := 0; i+1 < len(entry.values); i += 2 {
			values[entry.values[i]] = entry.values[i+1]
		}
		out = append(out, values)
	}
	return out
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	return nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR wrong number of arguments") != nil {
				return
			}
			continue
		}
		cmd := strings.ToUpper(args[0])
		s.mu.Lock()
		s.commands[cmd]++
		s.mu.Unlock()

		var werr error
		switch cmd {
		case "PING":
			werr = writeSimpleString(writer, "PONG")
		case "HELLO":
			// Clients fall back to RESP2 when HELLO is rejected.
			werr = writeError(writer, "ERR unknown command 'HELLO'")
		case "CLIENT", "SELECT":
			werr = writeSimpleString(writer, "OK")
		case "AUTH":
			password := args[len(args)-1]
			if len(args) < 2 || len(args) > 3 {
				werr = writeError(writer, "ERR wrong number of arguments for 'auth'")
			} else if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				werr = writeSimpleString(writer, "OK")
			} else {
				werr = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		default:
			if !authenticated {
				werr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			werr = s.dispatch(writer, cmd, args)
		}
		if werr != nil {
			return
		}
	}
}

func (s *Server) dispatch(w *bufio.Writer, cmd string, args []string) error {
	switch cmd {
	case "GET":
		if len(args) != 2 {
			return writeError(w, "ERR wrong number of arguments for 'get'")
		}
		value, ok := s.get(args[1])
		if !ok {
			return writeBulkNil(w)
		}
		return writeBulkString(w, value)
	case "SET":
		return s.handleSet(w, args)
	case "DEL":
		if len(args) < 2 {
			return writeError(w, "ERR wrong number of arguments for 'del'")
		}
		return writeInteger(w, s.del(args[1:]))
	case "INCR":
		if len(args) != 2 {
			return writeError(w, "ERR wrong number of arguments for 'incr'")
		}
		value, err := s.incr(args[1])
		if err != nil {
			return writeError(w, "ERR value is not an integer or out of range")
		}
		return writeInteger(w, value)
	case "EXPIRE", "PEXPIRE":
		if len(args) != 3 {
			return writeError(w, "ERR wrong number of arguments for 'expire'")
		}
		amount, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return writeError(w, "ERR invalid expire time")
		}
		unit := time.Second
		if cmd == "PEXPIRE" {
			unit = time.Millisecond
		}
		return writeInteger(w, s.expire(args[1], time.Duration(amount)*unit))
	case "TTL", "PTTL":
		if len(args) != 2 {
			return writeError(w, "ERR wrong number of arguments for 'ttl'")
		}
		unit := time.Second
		if cmd == "PTTL" {
			unit = time.Millisecond
		}
		return writeInteger(w, s.ttl(args[1], unit))
	case "XADD":
		return s.handleXAdd(w, args)
	case "XLEN":
		if len(args) != 2 {
			return writeError(w, "ERR wrong number of arguments for 'xlen'")
		}
		return writeInteger(w, int64(s.StreamLen(args[1])))
	case "XGROUP":
		return s.handleXGroup(w, args)
	case "XREADGROUP":
		return s.handleXReadGroup(w, args)
	case "XACK":
		if len(args) < 4 {
			return writeError(w, "ERR wrong number of arguments for 'xack'")
		}
		return writeInteger(w, int64(s.ack(args[1], args[2], args[3:])))
	default:
		return writeError(w, fmt.Sprintf("ERR unknown command '%s'", strings.ToLower(cmd)))
	}
}

func (s *Server) get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		return "", false
	}
	if entry.expired(time.Now()) {
		delete(s.kv, key)
		return "", false
	}
	return entry.value, true
}

func (s *Server) handleSet(w *bufio.Writer, args []string) error {
	if len(args) < 3 {
		return writeError(w, "ERR wrong number of arguments for 'set'")
	}
	entry := &kvEntry{value: args[2]}
	for i := 3; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "EX", "PX":
			if i+1 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			amount, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil || amount <= 0 {
				return writeError(w, "ERR invalid expire time in 'set' command")
			}
			unit := time.Second
			if strings.ToUpper(args[i]) == "PX" {
				unit = time.Millisecond
			}
			entry.expiry = time.Now().Add(time.Duration(amount) * unit)
			i++
		default:
			return writeError(w, "ERR syntax error")
		}
	}
	s.mu.Lock()
	s.kv[args[1]] = entry
	s.mu.Unlock()
	return writeSimpleString(w, "OK")
}

func (s *Server) del(keys []string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.kv[key]; ok {
			delete(s.kv, key)
			removed++
		}
	}
	return removed
}

func (s *Server) incr(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil || entry.expired(time.Now()) {
		entry = &kvEntry{value: "0"}
		s.kv[key] = entry
	}
	current, err := strconv.ParseInt(entry.value, 10, 64)
	if err != nil {
		return 0, err
	}
	current++
	entry.value = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *Server) expire(key string, ttl time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		return 0
	}
	entry.expiry = time.Now().Add(ttl)
	return 1
}

func (s *Server) ttl(key string, unit time.Duration) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.kv[key]
	if !ok {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.kv, key)
		return -2
	}
	return int64(remaining / unit)
}

func (s *Server) handleXAdd(w *bufio.Writer, args []string) error {
	if len(args) < 5 {
		return writeError(w, "ERR wrong number of arguments for 'xadd'")
	}
	stream := args[1]
	i := 2
	if strings.ToUpper(args[i]) == "MAXLEN" {
		i++
		if args[i] == "~" || args[i] == "=" {
			i++
		}
		i++
	}
	if i >= len(args) {
		return writeError(w, "ERR syntax error")
	}
	id := args[i]
	values := args[i+1:]
	if len(values) == 0 || len(values)%2 != 0 {
		return writeError(w, "ERR wrong number of arguments for 'xadd'")
	}
	s.mu.Lock()
	strm := s.ensureStream(stream)
	if id == "*" {
		strm.seq++
		id = fmt.Sprintf("%d-%d", time.Now().UnixMilli(), strm.seq)
	}
	strm.entries = append(strm.entries, streamEntry{id: id, values: append([]string(nil), values...)})
	s.mu.Unlock()
	return writeBulkString(w, id)
}

func (s *Server) handleXGroup(w *bufio.Writer, args []string) error {
	if len(args) < 5 {
		return writeError(w, "ERR wrong number of arguments for 'xgroup'")
	}
	if strings.ToUpper(args[1]) != "CREATE" {
		return writeError(w, "ERR only CREATE supported")
	}
	stream, group := args[2], args[3]
	s.mu.Lock()
	strm := s.ensureStream(stream)
	if _, exists := strm.groups[group]; exists {
		s.mu.Unlock()
		return writeError(w, "BUSYGROUP Consumer Group name already exists")
	}
	state := &groupState{pending: make(map[string]struct{})}
	if args[4] == "$" {
		state.nextIndex = len(strm.entries)
	}
	strm.groups[group] = state
	s.mu.Unlock()
	return writeSimpleString(w, "OK")
}

func (s *Server) ensureStream(name string) *redisStream {
	strm, ok := s.streams[name]
	if !ok {
		strm = &redisStream{groups: make(map[string]*groupState)}
		s.streams[name] = strm
	}
	return strm
}

func (s *Server) handleXReadGroup(w *bufio.Writer, args []string) error {
	var group, stream string
	count := 1
	blockMs := 0
	for i := 1; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if i+2 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			group = args[i+1]
			i += 2
		case "COUNT":
			if i+1 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(w, "ERR invalid COUNT")
			}
			count = v
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			v, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(w, "ERR invalid BLOCK")
			}
			blockMs = v
			i++
		case "STREAMS":
			if i+2 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			stream = args[i+1]
			i = len(args)
		}
	}
	if stream == "" || group == "" {
		return writeError(w, "ERR missing stream or group")
	}
	deadline := time.Now().Add(time.Duration(blockMs) * time.Millisecond)
	for {
		items := s.readGroup(stream, group, count)
		if len(items) > 0 {
			return writeArray(w, []interface{}{items})
		}
		if blockMs <= 0 || time.Now().After(deadline) {
			return writeArrayNil(w)
		}
		select {
		case <-s.closed:
			return io.EOF
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (s *Server) readGroup(stream, group string, count int) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm := s.ensureStream(stream)
	state, ok := strm.groups[group]
	if !ok {
		return nil
	}
	start := state.nextIndex
	if start >= len(strm.entries) {
		return nil
	}
	end := start + count
	if count <= 0 || end > len(strm.entries) {
		end = len(strm.entries)
	}
	records := make([]interface{}, 0, end-start)
	for i := start; i < end; i++ {
		entry := strm.entries[i]
		state.pending[entry.id] = struct{}{}
		fields := make([]interface{}, 0, len(entry.values))
		for _, v := range entry.values {
			fields = append(fields, v)
		}
		records = append(records, []interface{}{entry.id, fields})
	}
	state.nextIndex = end
	return []interface{}{stream, records}
}

func (s *Server) ack(stream, group string, ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	strm, ok := s.streams[stream]
	if !ok {
		return 0
	}
	state, ok := strm.groups[group]
	if !ok {
		return 0
	}
	count := 0
	for _, id := range ids {
		if _, exists := state.pending[id]; exists {
			delete(state.pending, id)
			count++
		}
	}
	return count
}

func generateSelfSignedCert() ([]byte, tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, tls.Certificate{}, err
	}
	return certPEM, cert, nil
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, nil
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimRight(line, "\r\n"))
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if err := writeBulkStringRaw(w, value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkNil(w *bufio.Writer) error {
	if _, err := w.WriteString("$-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeArrayNil(w *bufio.Writer) error {
	if _, err := w.WriteString("*-1\r\n"); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	if err := writeArrayRaw(w, values); err != nil {
		return err
	}
	return w.Flush()
}

func writeArrayRaw(w *bufio.Writer, values []interface{}) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(values)); err != nil {
		return err
	}
	for _, value := range values {
		var err error
		switch v := value.(type) {
		case string:
			err = writeBulkStringRaw(w, v)
		case int64:
			_, err = fmt.Fprintf(w, ":%d\r\n", v)
		case []interface{}:
			err = writeArrayRaw(w, v)
		default:
			err = writeBulkStringRaw(w, fmt.Sprint(v))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func writeBulkStringRaw(w *bufio.Writer, value string) error {
	_, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	return err
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
