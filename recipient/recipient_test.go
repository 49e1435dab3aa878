package recipient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	genesisAddr = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	zeroAddr    = "1111111111111111111114oLvT2"
)

// startDNS serves answers for TXT queries on a loopback UDP port.
func startDNS(t *testing.T, authenticated bool, records map[string][]string) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		NotifyStartedFunc: func() { close(started) },
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
			m := new(dns.Msg)
			m.SetReply(req)
			m.AuthenticatedData = authenticated
			q := req.Question[0]
			txts, ok := records[q.Name]
			if !ok {
				m.Rcode = dns.RcodeNameError
			}
			for _, txt := range txts {
				m.Answer = append(m.Answer, &dns.TXT{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
					Txt: []string{txt},
				})
			}
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = srv.ActivateAndServe() }()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}
	t.Cleanup(func() { _ = srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestParseAddress(t *testing.T) {
	d, err := ParseAddress(genesisAddr)
	require.NoError(t, err)
	assert.Len(t, d.PKH, 20)
	assert.Equal(t, genesisAddr, d.Address)

	z, err := ParseAddress(zeroAddr)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 20), z.PKH)

	_, err = ParseAddress("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestDNSResolver_PlainAddress(t *testing.T) {
	r := &DNSResolver{} // no TXT lookup needed
	d, err := r.Resolve(context.Background(), "  "+genesisAddr+" ")
	require.NoError(t, err)
	assert.Equal(t, genesisAddr, d.Address)

	_, err = r.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestDNSResolver_TXT(t *testing.T) {
	addr := startDNS(t, true, map[string][]string{
		"_sbe.lp.example.": {"v=spf1 -all", "sbe=" + genesisAddr},
		"_sbe.bad.example.": {"sbe=garbage"},
		"_sbe.none.example.": {"unrelated"},
	})
	r := NewDNSResolver(addr)
	ctx := context.Background()

	d, err := r.Resolve(ctx, "dns:lp.example")
	require.NoError(t, err)
	assert.Equal(t, genesisAddr, d.Address)
	assert.Equal(t, "dns:lp.example", d.Source)

	_, err = r.Resolve(ctx, "dns:bad.example")
	assert.ErrorIs(t, err, ErrInvalidDestination)

	_, err = r.Resolve(ctx, "dns:none.example")
	assert.ErrorIs(t, err, ErrNoRecord)

	_, err = r.Resolve(ctx, "dns:missing.example")
	assert.ErrorIs(t, err, ErrNoRecord)

	_, err = r.Resolve(ctx, "dns:")
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestDNSResolver_RequiresAD(t *testing.T) {
	addr := startDNS(t, false, map[string][]string{
		"_sbe.lp.example.": {"sbe=" + genesisAddr},
	})
	_, err := NewDNSResolver(addr).Resolve(context.Background(), "dns:lp.example")
	assert.ErrorIs(t, err, ErrDNSSECValidationFailed)
}

func TestDNSSECResolver_Unreachable(t *testing.T) {
	r := NewDNSSECResolver("127.0.0.1:1")
	r.Timeout = 200 * time.Millisecond
	_, err := r.LookupTXT(context.Background(), "_sbe.example")
	assert.ErrorIs(t, err, ErrDNSLookupFailed)
}

func TestNewDNSSECResolver_Defaults(t *testing.T) {
	assert.Equal(t, "8.8.8.8:53", NewDNSSECResolver("").Upstream)
}

func TestStaticResolver(t *testing.T) {
	r := StaticResolver{"dns:lp.example": zeroAddr}
	all, err := ResolveAll(context.Background(), r, []string{"dns:lp.example", genesisAddr})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, zeroAddr, all[0].Address)
	assert.Equal(t, "dns:lp.example", all[0].Source)
	assert.Equal(t, genesisAddr, all[1].Address)

	_, err = ResolveAll(context.Background(), r, []string{"dns:other.example"})
	assert.ErrorIs(t, err, ErrInvalidDestination)
}
