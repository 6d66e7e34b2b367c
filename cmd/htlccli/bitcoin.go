package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/bitcoin"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcd"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/swap"
	"github.com/urfave/cli"
)

var newHashPairCommand = cli.Command{
	Name:  "newhashpair",
	Usage: "generate a random secret and its hashlock",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "hashfunc",
			Usage: "hash binding the secret, sha256 or hash256",
			Value: swap.HashDoubleSha256.String(),
		},
	},
	Action: newHashPair,
}

type hashPairResponse struct {
	Secret   string `json:"secret"`
	Hashlock string `json:"hashlock"`
}

func newHashPair(ctx *cli.Context) error {
	hashFunc, err := swap.ParseHashFunc(ctx.String("hashfunc"))
	if err != nil {
		return err
	}

	pair, err := swap.NewHashPair()
	if err != nil {
		return err
	}

	printJSON(&hashPairResponse{
		Secret:   pair.Preimage.String(),
		Hashlock: hashFunc.Sum(pair.Preimage[:]).String(),
	})

	return nil
}

var scriptCommand = cli.Command{
	Name:      "script",
	Usage:     "build or decode a bitcoin htlc witness script",
	ArgsUsage: "[witness_script]",
	Description: `
	Prints the witness script and P2WSH address of an htlc. Given a
	serialized script, the script is decoded instead.`,
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "hashlock",
			Usage: "double sha256 of the secret",
		},
		cli.StringFlag{
			Name:  "sender",
			Usage: "compressed public key of the sender",
		},
		cli.StringFlag{
			Name:  "receiver",
			Usage: "compressed public key of the receiver",
		},
		cli.UintFlag{
			Name:  "timelock",
			Usage: "block height of the refund path",
		},
	},
	Action: script,
}

type scriptResponse struct {
	Hashlock      string `json:"hashlock"`
	Sender        string `json:"sender"`
	Receiver      string `json:"receiver"`
	Timelock      uint32 `json:"timelock"`
	WitnessScript string `json:"witness_script"`
	Address       string `json:"address"`
}

func script(ctx *cli.Context) error {
	params, err := swap.ChainParamsFromNetwork(networkOf(ctx))
	if err != nil {
		return err
	}

	var htlc *swap.HtlcScript
	if ctx.NArg() > 0 {
		raw, err := parseHex(ctx.Args().First())
		if err != nil {
			return err
		}

		htlc, err = swap.ParseHtlcScript(raw, params)
		if err != nil {
			return err
		}
	} else {
		hashlock, err := parseHash(ctx.String("hashlock"))
		if err != nil {
			return err
		}

		sender, err := parsePubKey(ctx.String("sender"))
		if err != nil {
			return err
		}

		receiver, err := parsePubKey(ctx.String("receiver"))
		if err != nil {
			return err
		}

		htlc, err = swap.NewHtlcScript(
			hashlock, receiver, sender,
			uint32(ctx.Uint("timelock")), params,
		)
		if err != nil {
			return err
		}
	}

	printJSON(&scriptResponse{
		Hashlock:      htlc.Hashlock.String(),
		Sender:        hex.EncodeToString(htlc.SenderKey[:]),
		Receiver:      hex.EncodeToString(htlc.ReceiverKey[:]),
		Timelock:      htlc.Timelock,
		WitnessScript: hex.EncodeToString(htlc.Script),
		Address:       htlc.Address.String(),
	})

	return nil
}

var lockCommand = cli.Command{
	Name:      "lock",
	Usage:     "lock bitcoin in a new htlc",
	ArgsUsage: "amt",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "key",
			Usage: "WIF private key of the sender",
		},
		cli.StringFlag{
			Name:  "receiver",
			Usage: "compressed public key of the receiver",
		},
		cli.StringFlag{
			Name:  "hashlock",
			Usage: "double sha256 of the secret",
		},
		cli.UintFlag{
			Name:  "lockheight",
			Usage: "blocks until the lock can be refunded",
		},
		cli.StringFlag{
			Name:  "data",
			Usage: "hex payload of an OP_RETURN output",
		},
	},
	Action: lock,
}

type lockResponse struct {
	Hash          string `json:"hash"`
	Address       string `json:"contract_address"`
	WitnessScript string `json:"witness_script"`
	Timelock      uint32 `json:"timelock"`
	Fee           int64  `json:"fee"`
}

func lock(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "lock")
	}

	amt, err := parseAmt(ctx.Args().First())
	if err != nil {
		return err
	}

	sender, err := parseWIF(ctx.String("key"))
	if err != nil {
		return err
	}

	receiver, err := parsePubKey(ctx.String("receiver"))
	if err != nil {
		return err
	}
	receiverKey, err := btcec.ParsePubKey(receiver[:])
	if err != nil {
		return err
	}

	hashlock, err := parseHash(ctx.String("hashlock"))
	if err != nil {
		return err
	}

	var data []byte
	if ctx.IsSet("data") {
		data, err = parseHex(ctx.String("data"))
		if err != nil {
			return err
		}
	}

	services, cleanup, err := getServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := services.Bitcoin()
	if err != nil {
		return err
	}

	lockHeight := services.LockHeight()
	if ctx.IsSet("lockheight") {
		lockHeight = uint32(ctx.Uint("lockheight"))
	}

	res, err := engine.Lock(
		context.Background(), sender, receiverKey, hashlock,
		btcutil.Amount(amt), &bitcoin.LockOptions{
			FeeOptions: services.FeeOptions(),
			LockHeight: lockHeight,
			Data:       data,
		},
	)
	if err != nil {
		return err
	}

	printJSON(&lockResponse{
		Hash:          res.Hash.String(),
		Address:       res.ContractAddress.String(),
		WitnessScript: hex.EncodeToString(res.WitnessScript),
		Timelock:      res.Timelock,
		Fee:           int64(res.Fee),
	})

	return nil
}

var spendFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "key",
		Usage: "WIF private key of the spender",
	},
	cli.StringFlag{
		Name:  "txid",
		Usage: "id of the funding transaction",
	},
	cli.StringFlag{
		Name:  "address",
		Usage: "expected contract address",
	},
	cli.StringFlag{
		Name:  "script",
		Usage: "hex witness script returned by lock",
	},
}

var withdrawCommand = cli.Command{
	Name:  "withdraw",
	Usage: "claim a bitcoin htlc with the secret",
	Flags: append([]cli.Flag{
		cli.StringFlag{
			Name:  "secret",
			Usage: "preimage of the hashlock",
		},
	}, spendFlags...),
	Action: withdraw,
}

var refundCommand = cli.Command{
	Name:   "refund",
	Usage:  "refund an expired bitcoin htlc",
	Flags:  spendFlags,
	Action: refund,
}

type spendResponse struct {
	Hash string `json:"hash"`
}

func withdraw(ctx *cli.Context) error {
	proof, err := parsePreimage(ctx.String("secret"))
	if err != nil {
		return err
	}

	return spend(ctx, func(engine *bitcoin.Engine, opts bitcoin.FeeOptions,
		key *btcec.PrivateKey, txid chainhash.Hash,
		witnessScript []byte) (chainhash.Hash, error) {

		return engine.Withdraw(context.Background(),
			&bitcoin.WithdrawRequest{
				FeeOptions:      opts,
				Hash:            txid,
				ContractAddress: ctx.String("address"),
				WitnessScript:   witnessScript,
				Receiver:        key,
				Proof:           proof,
			})
	})
}

func refund(ctx *cli.Context) error {
	return spend(ctx, func(engine *bitcoin.Engine, opts bitcoin.FeeOptions,
		key *btcec.PrivateKey, txid chainhash.Hash,
		witnessScript []byte) (chainhash.Hash, error) {

		return engine.Refund(context.Background(),
			&bitcoin.RefundRequest{
				FeeOptions:      opts,
				Hash:            txid,
				ContractAddress: ctx.String("address"),
				WitnessScript:   witnessScript,
				Sender:          key,
			})
	})
}

type spendFunc func(engine *bitcoin.Engine, opts bitcoin.FeeOptions,
	key *btcec.PrivateKey, txid chainhash.Hash,
	witnessScript []byte) (chainhash.Hash, error)

func spend(ctx *cli.Context, fn spendFunc) error {
	key, err := parseWIF(ctx.String("key"))
	if err != nil {
		return err
	}

	txid, err := chainhash.NewHashFromStr(ctx.String("txid"))
	if err != nil {
		return err
	}

	witnessScript, err := parseHex(ctx.String("script"))
	if err != nil {
		return err
	}
	if len(witnessScript) == 0 {
		return errors.New("witness script missing")
	}

	services, cleanup, err := getServices(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := services.Bitcoin()
	if err != nil {
		return err
	}

	hash, err := fn(engine, services.FeeOptions(), key, *txid, witnessScript)
	if err != nil {
		return err
	}

	printJSON(&spendResponse{
		Hash: hash.String(),
	})

	return nil
}

func parseWIF(text string) (*btcec.PrivateKey, error) {
	if text == "" {
		return nil, errors.New("key missing")
	}

	wif, err := btcutil.DecodeWIF(text)
	if err != nil {
		return nil, err
	}

	return wif.PrivKey, nil
}

func parsePubKey(text string) ([33]byte, error) {
	var key [33]byte

	raw, err := parseHex(text)
	if err != nil {
		return key, err
	}

	pubKey, err := btcec.ParsePubKey(raw)
	if err != nil {
		return key, fmt.Errorf("invalid public key: %w", err)
	}
	copy(key[:], pubKey.SerializeCompressed())

	return key, nil
}

// networkOf returns the network given on the command line, or the default
// network if none is given.
func networkOf(ctx *cli.Context) string {
	if ctx.GlobalIsSet("network") {
		return ctx.GlobalString("network")
	}

	return htlcd.DefaultNetwork
}
