package main

import (
	"context"
	"errors"
	"time"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/auth"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/urfave/cli"
)

var (
	callerFlag = cli.StringFlag{
		Name:  "caller",
		Usage: "identity calling the ledger",
	}

	idFlag = cli.StringFlag{
		Name:  "id",
		Usage: "contract id as hex",
	}

	hashlockFlag = cli.StringFlag{
		Name:  "hashlock",
		Usage: "hashlock as hex",
	}

	timelockFlags = []cli.Flag{
		cli.Uint64Flag{
			Name:  "timelock",
			Usage: "absolute timelock in unix seconds",
		},
		cli.DurationFlag{
			Name:  "expiry",
			Usage: "timelock relative to now, used if no timelock is set",
			Value: time.Hour,
		},
	}

	recordFlags = []cli.Flag{
		cli.StringFlag{
			Name:  "receiver",
			Usage: "identity paid on redeem",
		},
		cli.StringFlag{
			Name:  "token",
			Usage: "token contract, the native coin if empty",
		},
		cli.StringFlag{
			Name:  "srcasset",
			Usage: "name of the asset on the source chain",
		},
		cli.StringFlag{
			Name:  "dstchain",
			Usage: "destination chain",
		},
		cli.StringFlag{
			Name:  "dstasset",
			Usage: "asset on the destination chain",
		},
		cli.StringFlag{
			Name:  "dstaddress",
			Usage: "receiver on the destination chain",
		},
	}
)

type idResponse struct {
	ID string `json:"id"`
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var all []cli.Flag
	for _, group := range groups {
		all = append(all, group...)
	}

	return all
}

func caller(ctx *cli.Context) (htlcdb.Address, error) {
	if ctx.String("caller") == "" {
		return "", errors.New("caller missing")
	}

	return htlcdb.Address(ctx.String("caller")), nil
}

func asset(ctx *cli.Context) htlcdb.Asset {
	if ctx.String("token") == "" {
		return htlcdb.NativeAsset
	}

	return htlcdb.Asset{
		Kind:  htlcdb.AssetToken,
		Token: ctx.String("token"),
	}
}

func destination(ctx *cli.Context) htlcdb.Destination {
	return htlcdb.Destination{
		Chain:   ctx.String("dstchain"),
		Asset:   ctx.String("dstasset"),
		Address: ctx.String("dstaddress"),
	}
}

// ledgerAction wraps an action that needs the ledger.
func ledgerAction(fn func(*cli.Context, *ledger.Ledger) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		services, cleanup, err := getServices(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		return fn(ctx, services.Ledger)
	}
}

var commitCommand = cli.Command{
	Name:      "commit",
	Usage:     "escrow funds in a commitment without hashlock",
	ArgsUsage: "amt",
	Flags: flags([]cli.Flag{
		callerFlag,
		cli.StringFlag{
			Name:  "messenger",
			Usage: "identity allowed to add the lock besides the caller",
		},
		cli.StringSliceFlag{
			Name:  "hopchain",
			Usage: "chain of a hop, may be repeated",
		},
		cli.StringSliceFlag{
			Name:  "hopasset",
			Usage: "asset of a hop, may be repeated",
		},
		cli.StringSliceFlag{
			Name:  "hopaddress",
			Usage: "address of a hop, may be repeated",
		},
	}, timelockFlags, recordFlags),
	Action: ledgerAction(commit),
}

func commit(ctx *cli.Context, l *ledger.Ledger) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "commit")
	}

	amt, err := parseAmt(ctx.Args().First())
	if err != nil {
		return err
	}

	sender, err := caller(ctx)
	if err != nil {
		return err
	}

	id, err := l.Commit(context.Background(), sender, &ledger.CommitRequest{
		SrcReceiver:  htlcdb.Address(ctx.String("receiver")),
		Messenger:    htlcdb.Address(ctx.String("messenger")),
		Timelock:     timelock(ctx, l),
		Amount:       amt,
		HopChains:    ctx.StringSlice("hopchain"),
		HopAssets:    ctx.StringSlice("hopasset"),
		HopAddresses: ctx.StringSlice("hopaddress"),
		Asset:        asset(ctx),
		SrcAsset:     ctx.String("srcasset"),
		Dst:          destination(ctx),
	})
	if err != nil {
		return err
	}

	printJSON(&idResponse{ID: id.String()})

	return nil
}

var createCommand = cli.Command{
	Name:      "create",
	Usage:     "escrow funds in an htlc with a known hashlock",
	ArgsUsage: "amt",
	Flags: flags([]cli.Flag{
		callerFlag, hashlockFlag,
		cli.StringFlag{
			Name:  "id",
			Usage: "explicit contract id, derived if empty",
		},
	}, timelockFlags, recordFlags),
	Action: ledgerAction(create),
}

func create(ctx *cli.Context, l *ledger.Ledger) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "create")
	}

	amt, err := parseAmt(ctx.Args().First())
	if err != nil {
		return err
	}

	sender, err := caller(ctx)
	if err != nil {
		return err
	}

	hashlock, err := parseHash(ctx.String("hashlock"))
	if err != nil {
		return err
	}

	var id htlcdb.ID
	if ctx.IsSet("id") {
		id, err = parseID(ctx)
		if err != nil {
			return err
		}
	}

	id, err = l.Create(context.Background(), sender, &ledger.CreateRequest{
		ID:          id,
		SrcReceiver: htlcdb.Address(ctx.String("receiver")),
		Hashlock:    hashlock,
		Timelock:    timelock(ctx, l),
		Amount:      amt,
		Asset:       asset(ctx),
		SrcAsset:    ctx.String("srcasset"),
		Dst:         destination(ctx),
	})
	if err != nil {
		return err
	}

	printJSON(&idResponse{ID: id.String()})

	return nil
}

var addLockCommand = cli.Command{
	Name:  "addlock",
	Usage: "set the hashlock and timelock of a commitment",
	Flags: flags(
		[]cli.Flag{callerFlag, idFlag, hashlockFlag}, timelockFlags,
	),
	Action: ledgerAction(addLock),
}

func addLock(ctx *cli.Context, l *ledger.Ledger) error {
	from, err := caller(ctx)
	if err != nil {
		return err
	}

	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	hashlock, err := parseHash(ctx.String("hashlock"))
	if err != nil {
		return err
	}

	id, err = l.AddLock(
		context.Background(), from, id, hashlock, timelock(ctx, l),
	)
	if err != nil {
		return err
	}

	printJSON(&idResponse{ID: id.String()})

	return nil
}

var addLockSigCommand = cli.Command{
	Name:  "addlocksig",
	Usage: "add a lock to a commitment signed by its sender or " +
		"messenger",
	Flags: flags([]cli.Flag{
		idFlag, hashlockFlag,
		cli.StringFlag{
			Name:  "sig",
			Usage: "signature over the lock message as hex",
		},
	}, timelockFlags),
	Action: ledgerAction(addLockSig),
}

func addLockSig(ctx *cli.Context, l *ledger.Ledger) error {
	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	hashlock, err := parseHash(ctx.String("hashlock"))
	if err != nil {
		return err
	}

	sig, err := parseHex(ctx.String("sig"))
	if err != nil {
		return err
	}

	msg := auth.LockMessage{
		ID:       id,
		Hashlock: hashlock,
		Timelock: timelock(ctx, l),
	}

	id, err = l.AddLockSig(context.Background(), msg, sig)
	if err != nil {
		return err
	}

	printJSON(&idResponse{ID: id.String()})

	return nil
}

var convertCommand = cli.Command{
	Name:   "convert",
	Usage:  "convert a commitment into an htlc keeping its timelock",
	Flags:  []cli.Flag{callerFlag, idFlag, hashlockFlag},
	Action: ledgerAction(convert),
}

func convert(ctx *cli.Context, l *ledger.Ledger) error {
	from, err := caller(ctx)
	if err != nil {
		return err
	}

	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	hashlock, err := parseHash(ctx.String("hashlock"))
	if err != nil {
		return err
	}

	id, err = l.ConvertP(context.Background(), from, id, hashlock)
	if err != nil {
		return err
	}

	printJSON(&idResponse{ID: id.String()})

	return nil
}

var redeemCommand = cli.Command{
	Name:  "redeem",
	Usage: "release an htlc to its receiver by revealing the secret",
	Flags: []cli.Flag{
		callerFlag, idFlag,
		cli.StringFlag{
			Name:  "secret",
			Usage: "preimage of the hashlock",
		},
	},
	Action: ledgerAction(redeem),
}

func redeem(ctx *cli.Context, l *ledger.Ledger) error {
	from, err := caller(ctx)
	if err != nil {
		return err
	}

	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	secret, err := parsePreimage(ctx.String("secret"))
	if err != nil {
		return err
	}

	err = l.Redeem(context.Background(), from, id, secret)
	if err != nil {
		return err
	}

	printJSON(&idResponse{ID: id.String()})

	return nil
}

var refundHtlcCommand = cli.Command{
	Name:   "refundhtlc",
	Usage:  "return an expired htlc to its sender",
	Flags:  []cli.Flag{callerFlag, idFlag},
	Action: ledgerAction(refundHtlc),
}

func refundHtlc(ctx *cli.Context, l *ledger.Ledger) error {
	from, err := caller(ctx)
	if err != nil {
		return err
	}

	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	if err := l.Refund(context.Background(), from, id); err != nil {
		return err
	}

	printJSON(&idResponse{ID: id.String()})

	return nil
}

var refundCommitCommand = cli.Command{
	Name:   "refundcommit",
	Usage:  "return an expired commitment to its sender",
	Flags:  []cli.Flag{callerFlag, idFlag},
	Action: ledgerAction(refundCommit),
}

func refundCommit(ctx *cli.Context, l *ledger.Ledger) error {
	from, err := caller(ctx)
	if err != nil {
		return err
	}

	id, err := parseID(ctx)
	if err != nil {
		return err
	}

	if err := l.RefundP(context.Background(), from, id); err != nil {
		return err
	}

	printJSON(&idResponse{ID: id.String()})

	return nil
}
