package main

import (
	"context"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcd"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/urfave/cli"
)

var detailsCommand = cli.Command{
	Name:  "details",
	Usage: "show an htlc or commitment",
	Flags: []cli.Flag{
		idFlag,
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "dump the raw records",
		},
	},
	Action: ledgerAction(details),
}

type htlcResponse struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	SrcReceiver string `json:"src_receiver"`
	Hashlock    string `json:"hashlock"`
	Secret      string `json:"secret"`
	Amount      uint64 `json:"amount"`
	Timelock    uint64 `json:"timelock"`
	Redeemed    bool   `json:"redeemed"`
	Refunded    bool   `json:"refunded"`
	Asset       string `json:"asset"`
	SrcAsset    string `json:"src_asset"`
	DstChain    string `json:"dst_chain"`
	DstAsset    string `json:"dst_asset"`
	DstAddress  string `json:"dst_address"`
	CommitID    string `json:"commit_id,omitempty"`
}

type phtlcResponse struct {
	ID          string   `json:"id"`
	Sender      string   `json:"sender"`
	SrcReceiver string   `json:"src_receiver"`
	Messenger   string   `json:"messenger"`
	Amount      uint64   `json:"amount"`
	Timelock    uint64   `json:"timelock"`
	Converted   bool     `json:"converted"`
	Refunded    bool     `json:"refunded"`
	LockID      string   `json:"lock_id,omitempty"`
	HopChains   []string `json:"hop_chains"`
	Asset       string   `json:"asset"`
	DstChain    string   `json:"dst_chain"`
	DstAddress  string   `json:"dst_address"`
}

type detailsResponse struct {
	HTLC  *htlcResponse  `json:"htlc,omitempty"`
	PHTLC *phtlcResponse `json:"commitment,omitempty"`
}

func details(ctx *cli.Context, l *ledger.Ledger) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	htlc, err := l.GetHTLCDetails(context.Background(), id)
	if err != nil {
		return err
	}

	phtlc, err := l.GetPHTLCDetails(context.Background(), id)
	if err != nil {
		return err
	}

	if ctx.Bool("verbose") {
		spew.Dump(htlc, phtlc)
		return nil
	}

	var resp detailsResponse
	if htlc.Exists() {
		resp.HTLC = marshallHTLC(htlc)
	}
	if phtlc.Exists() {
		resp.PHTLC = marshallPHTLC(phtlc)
	}

	printJSON(&resp)

	return nil
}

func marshallHTLC(h *htlcdb.HTLC) *htlcResponse {
	resp := &htlcResponse{
		ID:          h.ID.String(),
		Sender:      string(h.Sender),
		SrcReceiver: string(h.SrcReceiver),
		Hashlock:    lntypes.Hash(h.Hashlock).String(),
		Secret:      lntypes.Preimage(h.Secret).String(),
		Amount:      h.Amount,
		Timelock:    h.Timelock,
		Redeemed:    h.Redeemed,
		Refunded:    h.Refunded,
		Asset:       h.Asset.String(),
		SrcAsset:    h.SrcAsset,
		DstChain:    h.Dst.Chain,
		DstAsset:    h.Dst.Asset,
		DstAddress:  h.Dst.Address,
	}
	if !h.CommitID.IsZero() {
		resp.CommitID = h.CommitID.String()
	}

	return resp
}

func marshallPHTLC(p *htlcdb.PHTLC) *phtlcResponse {
	resp := &phtlcResponse{
		ID:          p.ID.String(),
		Sender:      string(p.Sender),
		SrcReceiver: string(p.SrcReceiver),
		Messenger:   string(p.Messenger),
		Amount:      p.Amount,
		Timelock:    p.Timelock,
		Converted:   p.Converted,
		Refunded:    p.Refunded,
		Asset:       p.Asset.String(),
		DstChain:    p.Dst.Chain,
		DstAddress:  p.Dst.Address,
	}
	for _, hop := range p.Hops {
		resp.HopChains = append(resp.HopChains, hop.Chain)
	}
	if p.Converted {
		resp.LockID = p.LockID.String()
	}

	return resp
}

var contractsCommand = cli.Command{
	Name:      "contracts",
	Usage:     "list the contracts funded by a sender",
	ArgsUsage: "sender",
	Action:    ledgerAction(contracts),
}

type contractsResponse struct {
	IDs []string `json:"ids"`
}

func contracts(ctx *cli.Context, l *ledger.Ledger) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "contracts")
	}

	ids, err := l.GetContracts(
		context.Background(), htlcdb.Address(ctx.Args().First()),
	)
	if err != nil {
		return err
	}

	resp := contractsResponse{
		IDs: make([]string, 0, len(ids)),
	}
	for _, id := range ids {
		resp.IDs = append(resp.IDs, id.String())
	}

	printJSON(&resp)

	return nil
}

var watchCommand = cli.Command{
	Name:  "watch",
	Usage: "report contracts as they become refundable",
	Flags: []cli.Flag{
		cli.DurationFlag{
			Name:  "interval",
			Usage: "interval between checks",
			Value: 30 * time.Second,
		},
	},
	Action: watch,
}

func watch(ctx *cli.Context) error {
	interceptor, err := signal.Intercept()
	if err != nil {
		return err
	}

	services, cleanup, err := getServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-interceptor.ShutdownChannel():
			cancel()

		case <-runCtx.Done():
		}
	}()

	watcher := &htlcd.ExpiryWatcher{
		Store:  services.Store,
		Now:    services.Ledger.Now,
		Ticker: ticker.New(ctx.Duration("interval")),
		Notify: func(e htlcd.Expiry) {
			kind := "htlc"
			if e.Commit {
				kind = "commitment"
			}

			fmt.Printf("%v %v %v: %v %v refundable to %v since %v\n",
				time.Now().Format(time.RFC3339), kind, e.ID,
				e.Amount, e.Asset, e.Sender,
				time.Unix(int64(e.Timelock), 0).Format(
					time.RFC3339,
				))
		},
	}

	return watcher.Run(runCtx)
}
