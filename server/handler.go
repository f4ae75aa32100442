package server

import (
	"errors"
	"log/slog"
	"net"

	"github.com/miekg/dns"
	"github.com/rcoop/dns-tunnel/internal/protocol"
)

// Handler implements dns.Handler and feeds tunnel queries into a Session.
type Handler struct {
	BaseDomain string
	Session    *Session
}

// ServeDNS handles an incoming DNS query. Anything that is not a valid
// tunnel query gets an empty NOERROR reply.
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true
	// Full-size names appear in both question and answer; without
	// compression the reply outgrows a 512-byte UDP message.
	m.Compress = true

	if len(r.Question) == 0 {
		h.write(w, m)
		return
	}

	q := r.Question[0]
	if q.Qtype != dns.TypeA && q.Qtype != dns.TypeTXT {
		h.write(w, m)
		return
	}

	for _, ip := range h.Resolve(q.Name) {
		m.Answer = append(m.Answer, answer(q.Name, ip, q.Qtype))
	}
	h.write(w, m)
}

// Resolve processes one query name and returns the addresses to answer
// with. It may be called concurrently.
func (h *Handler) Resolve(name string) []net.IP {
	msg, err := protocol.ParseQuery(name, h.BaseDomain)
	if err != nil {
		slog.Warn("Malformed query", "name", name, "err", err)
		return nil
	}

	switch v := msg.(type) {
	case *protocol.HandshakeMessage:
		if !h.Session.Handshake(v.Counter) {
			return nil
		}
		return []net.IP{protocol.HandshakeAckIP}

	case *protocol.DataMessage:
		ack, err := h.Session.Admit(v.Seq, v.Payload)
		if errors.Is(err, ErrNotReady) {
			slog.Warn("Data before handshake", "seq", v.Seq)
			return nil
		}
		slog.Debug("ACK", "seq", v.Seq, "ack", ack)
		return []net.IP{protocol.AckIP(ack)}
	}
	return nil
}

func answer(name string, ip net.IP, qtype uint16) dns.RR {
	if qtype == dns.TypeTXT {
		return &dns.TXT{
			Hdr: dns.RR_Header{
				Name:   name,
				Rrtype: dns.TypeTXT,
				Class:  dns.ClassINET,
				Ttl:    0,
			},
			Txt: []string{ip.String()},
		}
	}
	return &dns.A{
		Hdr: dns.RR_Header{
			Name:   name,
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    0,
		},
		A: ip,
	}
}

func (h *Handler) write(w dns.ResponseWriter, m *dns.Msg) {
	if err := w.WriteMsg(m); err != nil {
		slog.Error("Write error", "err", err)
	}
}
