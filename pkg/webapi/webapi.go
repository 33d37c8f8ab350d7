package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/conductor"
)

// WebAPI implements conductor.Service
type WebAPI struct {
	api    tipjar.API
	config tipjar.Config
}

// interface guard ensures WebAPI implements conductor.Service
var _ conductor.Service = WebAPI{}

func NewWebAPI(config tipjar.Config, api tipjar.API) (WebAPI, error) {
	return WebAPI{api: api, config: config}, nil
}

func (t WebAPI) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		adminMux, pubMux := t.createRouters()

		// Start the admin server
		adminServer := &http.Server{Addr: t.config.WebAPI.AdminBind + ":" + t.config.WebAPI.AdminPort, Handler: adminMux}
		log.Printf("WebAPI: admin API listening on %s:%s\n", t.config.WebAPI.AdminBind, t.config.WebAPI.AdminPort)
		go func() {
			if err := adminServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server admin ListenAndServe: %v", err)
			}
		}()

		// Start the public server
		pubServer := &http.Server{Addr: t.config.WebAPI.PubBind + ":" + t.config.WebAPI.PubPort, Handler: pubMux}
		log.Printf("WebAPI: public API listening on %s:%s\n", t.config.WebAPI.PubBind, t.config.WebAPI.PubPort)
		go func() {
			if err := pubServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Fatalf("HTTP server public ListenAndServe: %v", err)
			}
		}()

		started <- true
		ctx := <-stop
		adminServer.Shutdown(ctx)
		pubServer.Shutdown(ctx)
		stopped <- true
	}()
	return nil
}

func (t WebAPI) createRouters() (adminMux *httprouter.Router, pubMux *httprouter.Router) {
	adminMux = httprouter.New() // Admin APIs
	pubMux = httprouter.New()   // Public APIs

	// Admin APIs

	// POST { owner } /target/:targetRef -> { target } register a tippable target
	adminMux.POST("/target/:targetRef", t.registerTarget)

	// GET /target/:targetRef -> { target } target with its tip aggregates
	adminMux.GET("/target/:targetRef", t.getTarget)

	// POST /admin/sweep -> { report } run one sweep now
	adminMux.POST("/admin/sweep", t.sweep)

	// POST /admin/tip/:tipID/process -> { tip } process one tip now
	adminMux.POST("/admin/tip/:tipID/process", t.processTip)

	// GET /metrics -> prometheus metrics
	adminMux.Handler("GET", "/metrics", promhttp.Handler())

	// Public APIs

	// POST { claim } /tip -> { tip_id, status } submit a tip claim
	pubMux.POST("/tip", t.submitTip)

	// GET /tip/:tipID -> { tip } current status of a tip
	pubMux.GET("/tip/:tipID", t.getTip)

	// GET /wallet/:address/tips ? cursor, limit -> { items, cursor } tips sent or received
	pubMux.GET("/wallet/:address/tips", t.listWalletTips)

	// GET /wallet/:address/stats -> { stats } tip aggregates and reputation
	pubMux.GET("/wallet/:address/stats", t.getWalletStats)

	// GET /wallet/:address/qr.png ? amount, fg, bg -> EIP-681 tip request QR
	pubMux.GET("/wallet/:address/qr.png", t.getWalletQR)

	// GET /target/:targetRef/tips ? cursor, limit -> { items, cursor } tips for a target
	pubMux.GET("/target/:targetRef/tips", t.listTargetTips)

	return
}

// submitTip accepts a claimed on-chain transfer as a tip. The response
// is always 'pending': verification happens in the background.
func (t WebAPI) submitTip(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var claim tipjar.TipClaim
	err := json.NewDecoder(r.Body).Decode(&claim)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	res, err := t.api.SubmitTip(r.Context(), claim)
	if err != nil {
		sendError(w, "SubmitTip", err)
		return
	}
	sendResponse(w, res)
}

func (t WebAPI) getTip(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	id := p.ByName("tipID")
	if id == "" {
		sendBadRequest(w, "missing tip ID")
		return
	}
	tip, err := t.api.GetTip(id)
	if err != nil {
		sendError(w, "GetTip", err)
		return
	}
	sendResponse(w, tip)
}

func (t WebAPI) listWalletTips(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	cursor, limit, err := parsePaging(r)
	if err != nil {
		sendError(w, "ListWalletTips", err)
		return
	}
	res, err := t.api.ListWalletTips(tipjar.Address(p.ByName("address")), cursor, limit)
	if err != nil {
		sendError(w, "ListWalletTips", err)
		return
	}
	sendResponse(w, res)
}

func (t WebAPI) listTargetTips(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	cursor, limit, err := parsePaging(r)
	if err != nil {
		sendError(w, "ListTargetTips", err)
		return
	}
	res, err := t.api.ListTargetTips(p.ByName("targetRef"), cursor, limit)
	if err != nil {
		sendError(w, "ListTargetTips", err)
		return
	}
	sendResponse(w, res)
}

func (t WebAPI) getWalletStats(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	stats, err := t.api.GetWalletStats(tipjar.Address(p.ByName("address")))
	if err != nil {
		sendError(w, "GetWalletStats", err)
		return
	}
	sendResponse(w, stats)
}

func (t WebAPI) getWalletQR(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	wallet := tipjar.NormalizeAddress(p.ByName("address"))
	if !tipjar.IsValidAddress(wallet) {
		sendBadRequest(w, "invalid wallet address")
		return
	}
	qs := r.URL.Query()
	var raw *big.Int
	if s := qs.Get("amount"); s != "" {
		amount, err := decimal.NewFromString(s)
		if err != nil || !amount.IsPositive() {
			sendBadRequest(w, "invalid amount")
			return
		}
		var ok bool
		raw, ok = tipjar.ToRaw(amount, t.config.Token.Decimals)
		if !ok {
			sendBadRequest(w, fmt.Sprintf("amount has more than %d decimal places", t.config.Token.Decimals))
			return
		}
	}
	uri := TipPaymentURI(wallet, t.config.Token, t.config.Chain.ChainID, raw)
	qr, err := GenerateQRCodePNG(uri, 512, qs.Get("fg"), qs.Get("bg"))
	if err != nil {
		sendError(w, "GenerateQRCodePNG", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	// the image never changes for a given wallet and amount.
	w.Header().Set("Cache-Control", "max-age=900, immutable")
	w.Write(qr)
}

func (t WebAPI) registerTarget(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	ref := p.ByName("targetRef")
	if ref == "" {
		sendBadRequest(w, "missing target ref in URL")
		return
	}
	var o tipjar.RegisterTargetRequest
	err := json.NewDecoder(r.Body).Decode(&o)
	if err != nil {
		sendBadRequest(w, fmt.Sprintf("bad request body (expecting JSON): %v", err))
		return
	}
	target, err := t.api.RegisterTarget(ref, o)
	if err != nil {
		sendError(w, "RegisterTarget", err)
		return
	}
	sendResponse(w, target)
}

func (t WebAPI) getTarget(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	target, err := t.api.Store.GetTarget(p.ByName("targetRef"))
	if err != nil {
		sendError(w, "GetTarget", err)
		return
	}
	sendResponse(w, target)
}

func (t WebAPI) sweep(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	// a client disconnect must not abandon tips mid-verification
	report, err := t.api.Sweep(context.WithoutCancel(r.Context()))
	if err != nil {
		sendError(w, "Sweep", err)
		return
	}
	sendResponse(w, report)
}

func (t WebAPI) processTip(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	tip, err := t.api.ProcessTip(context.WithoutCancel(r.Context()), p.ByName("tipID"))
	if err != nil {
		sendError(w, "ProcessTip", err)
		return
	}
	sendResponse(w, tip)
}
