package webapi

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/chain/chaintest"
	"github.com/surgesocial/tipjar/pkg/services"
	"github.com/surgesocial/tipjar/pkg/store"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	txA   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	txB   = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func TestWebAPI(t *testing.T) {
	rig := newTestRig(t)
	admin, pub := rig.admin, rig.pub

	// Register target "post-1" owned by Bob
	var target tipjar.Target
	request(t, admin, "/target/post-1", `{"owner":"0x`+strings.ToUpper(bob[2:])+`"}`, &target)
	if target.Ref != "post-1" {
		t.Fatalf("Register target did not round-trip: %+v", target)
	}
	if target.Owner != bob {
		t.Fatalf("Register target did not normalize owner: %s", target.Owner)
	}

	// Alice tips Bob 5 SURGE
	rig.chain.AddTokenTransfer(txA, tipjar.Address(rig.config.Token.Contract), alice, bob, raw(5))
	var submitted tipjar.SubmitTipResponse
	request(t, pub, "/tip", claimJSON(txA, alice, bob, "5", "post-1"), &submitted)
	if submitted.Status != tipjar.TipPending || submitted.TipID == "" {
		t.Fatalf("Submit tip should return a pending tip: %+v", submitted)
	}

	// Not processed yet
	var tip tipjar.PublicTip
	request(t, pub, "/tip/"+submitted.TipID, "", &tip)
	if tip.Status != tipjar.TipPending || tip.VerifiedAmount != nil {
		t.Fatalf("Tip should still be pending: %+v", tip)
	}

	// Process it through the admin API
	request(t, admin, "/admin/tip/"+submitted.TipID+"/process", `{}`, &tip)
	if tip.Status != tipjar.TipConfirmed {
		t.Fatalf("Tip should be confirmed: %+v", tip)
	}
	if tip.VerifiedAmount == nil || tip.VerifiedAmount.String() != "5" {
		t.Fatalf("Tip has wrong verified amount: %v", tip.VerifiedAmount)
	}

	// Bob's stats
	var stats tipjar.AgentStats
	request(t, pub, "/wallet/"+bob+"/stats", "", &stats)
	if stats.TipsReceivedCount != 1 || stats.TipsReceivedAmount.String() != "5" {
		t.Fatalf("Bob's stats are wrong: %+v", stats)
	}

	// Target aggregates
	request(t, admin, "/target/post-1", "", &target)
	if target.TipCount != 1 || target.TipAmount.String() != "5" {
		t.Fatalf("Target aggregates are wrong: %+v", target)
	}

	// Listings
	var list tipjar.ListTipsResponse
	request(t, pub, "/wallet/"+alice+"/tips?limit=5", "", &list)
	if len(list.Items) != 1 || list.Items[0].ID != submitted.TipID {
		t.Fatalf("Alice's tips are wrong: %+v", list)
	}
	request(t, pub, "/target/post-1/tips", "", &list)
	if len(list.Items) != 1 || list.Cursor != 0 {
		t.Fatalf("Target tips are wrong: %+v", list)
	}
	request(t, pub, "/wallet/0x3333333333333333333333333333333333333333/tips", "", &list)
	if list.Items == nil || len(list.Items) != 0 {
		t.Fatalf("Empty listing should be an empty array: %+v", list)
	}

	// A second sweep has nothing to do
	var report tipjar.SweepReport
	request(t, admin, "/admin/sweep", `{}`, &report)
	if report.Processed != 0 || report.Settled != 0 {
		t.Fatalf("Sweep should find nothing: %+v", report)
	}
}

func TestWebAPIErrors(t *testing.T) {
	rig := newTestRig(t)
	admin, pub := rig.admin, rig.pub
	var target tipjar.Target
	request(t, admin, "/target/post-1", `{"owner":"`+bob+`"}`, &target)
	var submitted tipjar.SubmitTipResponse
	request(t, pub, "/tip", claimJSON(txA, alice, bob, "1", "post-1"), &submitted)

	cases := []struct {
		name   string
		mux    *httprouter.Router
		method string
		path   string
		body   string
		status int
		code   tipjar.ErrorCode
	}{
		{"duplicate tx", pub, "POST", "/tip", claimJSON(txA, alice, bob, "1", "post-1"), 400, tipjar.DuplicateTx},
		{"self tip", pub, "POST", "/tip", claimJSON(txB, alice, alice, "1", "post-1"), 400, tipjar.SelfTip},
		{"unknown target", pub, "POST", "/tip", claimJSON(txB, alice, bob, "1", "post-9"), 404, tipjar.NotFound},
		{"zero amount", pub, "POST", "/tip", claimJSON(txB, alice, bob, "0", "post-1"), 400, tipjar.BadRequest},
		{"bad json", pub, "POST", "/tip", `{"chain_tx_id":`, 400, tipjar.BadRequest},
		{"unknown tip", pub, "GET", "/tip/nope", "", 404, tipjar.NotFound},
		{"bad wallet", pub, "GET", "/wallet/0x12/stats", "", 400, tipjar.BadRequest},
		{"bad limit", pub, "GET", "/wallet/" + alice + "/tips?limit=101", "", 400, tipjar.BadRequest},
		{"unknown target tips", pub, "GET", "/target/post-9/tips", "", 404, tipjar.NotFound},
		{"bad owner", admin, "POST", "/target/post-2", `{"owner":"bob"}`, 400, tipjar.BadRequest},
		{"process unknown tip", admin, "POST", "/admin/tip/nope/process", `{}`, 404, tipjar.NotFound},
	}
	for _, c := range cases {
		res := httptest.NewRecorder()
		c.mux.ServeHTTP(res, httptest.NewRequest(c.method, c.path, strings.NewReader(c.body)))
		if res.Code != c.status {
			t.Errorf("%s: expected status %d, got %d: %s", c.name, c.status, res.Code, res.Body)
			continue
		}
		var body struct {
			Error struct {
				Code    tipjar.ErrorCode `json:"code"`
				Message string           `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
			t.Errorf("%s: bad error json: %v", c.name, err)
			continue
		}
		if body.Error.Code != c.code {
			t.Errorf("%s: expected error code %s, got %s (%s)", c.name, c.code, body.Error.Code, body.Error.Message)
		}
	}
}

func TestWalletQRCode(t *testing.T) {
	rig := newTestRig(t)
	res := httptest.NewRecorder()
	rig.pub.ServeHTTP(res, httptest.NewRequest("GET", "/wallet/"+bob+"/qr.png?amount=2.5&fg=ff0000", nil))
	if res.Code != 200 {
		t.Fatalf("QR code request failed: %d %s", res.Code, res.Body)
	}
	if ct := res.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("QR code has wrong content type: %s", ct)
	}
	if !bytes.HasPrefix(res.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("QR code is not a PNG")
	}

	for _, q := range []string{"amount=abc", "amount=-1", "amount=0.0000000000000000001"} {
		res = httptest.NewRecorder()
		rig.pub.ServeHTTP(res, httptest.NewRequest("GET", "/wallet/"+bob+"/qr.png?"+q, nil))
		if res.Code != 400 {
			t.Errorf("QR code with %s: expected 400, got %d", q, res.Code)
		}
	}
}

func TestTipPaymentURI(t *testing.T) {
	token := tipjar.TokenConfig{Symbol: "SURGE", Contract: "0x5AFE000000000000000000000000000000000001", Decimals: 18}
	got := TipPaymentURI(bob, token, 8453, big.NewInt(1000))
	want := "ethereum:0x5afe000000000000000000000000000000000001@8453/transfer?address=" + bob + "&uint256=1000"
	if got != want {
		t.Fatalf("token URI:\n got %s\nwant %s", got, want)
	}

	native := tipjar.TokenConfig{Symbol: "ETH", Decimals: 18}
	if got := TipPaymentURI(bob, native, 0, big.NewInt(7)); got != "ethereum:"+bob+"?value=7" {
		t.Fatalf("native URI: %s", got)
	}
	if got := TipPaymentURI(bob, native, 1, nil); got != "ethereum:"+bob+"@1" {
		t.Fatalf("native URI without amount: %s", got)
	}
}

func claimJSON(txID, from, to, amount, target string) string {
	b, _ := json.Marshal(map[string]string{
		"chain_tx_id":  txID,
		"from_address": from,
		"to_address":   to,
		"amount":       amount,
		"token_symbol": "SURGE",
		"target_ref":   target,
	})
	return string(b)
}

func raw(whole int64) *big.Int {
	n := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return n.Mul(n, big.NewInt(whole))
}

func request(t *testing.T, mux *httprouter.Router, path string, body string, out any) *http.Response {
	var reader *strings.Reader
	method := "GET"
	if body != "" {
		method = "POST"
	}
	reader = strings.NewReader(body)
	req := httptest.NewRequest(method, path, reader)
	res := httptest.NewRecorder()
	mux.ServeHTTP(res, req)
	result := res.Result()
	if result.StatusCode != 200 {
		t.Fatalf("%s request failed: %v %v", path, result.StatusCode, res.Body)
	}
	err := json.NewDecoder(res.Body).Decode(out)
	if err != nil {
		t.Fatalf("%s bad json: %v", path, res.Body)
	}
	return result
}

type testRig struct {
	admin  *httprouter.Router
	pub    *httprouter.Router
	chain  *chaintest.FakeReader
	config tipjar.Config
}

func newTestRig(t *testing.T) testRig {
	config := tipjar.TestConfig()
	store, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Cannot create in-memory database: %v", err)
	}
	t.Cleanup(store.Close)
	fake := chaintest.NewFakeReader()
	bus := tipjar.NewMessageBus()
	coord := services.NewCoordinator(config, store, fake, bus, tipjar.NewBusNotifier(bus))
	// tips are processed explicitly through the admin API
	coord.Shutdown()
	api := tipjar.NewAPI(store, coord, config)

	web := WebAPI{api: api, config: config}
	admin, pub := web.createRouters()
	return testRig{admin: admin, pub: pub, chain: fake, config: config}
}
