package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcd"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/htlcdb"
	"github.com/layerswap/layerswap-atomic-bridge-sub001/ledger"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/urfave/cli"
)

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fmt.Println("unable to encode response: ", err)
		return
	}

	fmt.Println(string(b))
}

func fatal(err error) {
	code := ledger.CodeOf(err)
	if code != ledger.CodeUnknown {
		fmt.Fprintf(os.Stderr, "[htlccli] error %d: %v\n", code, err)
	} else {
		fmt.Fprintf(os.Stderr, "[htlccli] %v\n", err)
	}
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Version = htlcd.Version()
	app.Name = "htlccli"
	app.Usage = "operate the htlc ledger and bitcoin htlcs"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "htlcddir",
			Usage: "directory of the htlcd data and config file",
		},
		cli.StringFlag{
			Name:  "configfile",
			Usage: "path to the config file",
		},
		cli.StringFlag{
			Name:  "network",
			Usage: "bitcoin network to operate on",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Usage: "log level written to stderr",
		},
	}
	app.Commands = []cli.Command{
		newHashPairCommand, scriptCommand, lockCommand,
		withdrawCommand, refundCommand, commitCommand, createCommand,
		addLockCommand, addLockSigCommand, convertCommand,
		redeemCommand, refundHtlcCommand, refundCommitCommand,
		detailsCommand, contractsCommand, watchCommand,
	}

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

// getServices loads the config and opens the ledger. The global flags
// override the config file.
func getServices(ctx *cli.Context) (*htlcd.Services, func(), error) {
	var args []string
	for _, name := range []string{
		"htlcddir", "configfile", "network", "debuglevel",
	} {
		if ctx.GlobalIsSet(name) {
			args = append(args, fmt.Sprintf("--%v=%v", name,
				ctx.GlobalString(name)))
		}
	}

	cfg, err := htlcd.LoadConfig(args)
	if err != nil {
		return nil, nil, err
	}

	if err := htlcd.SetupLoggers(os.Stderr, cfg.DebugLevel); err != nil {
		return nil, nil, err
	}

	services, err := htlcd.NewServices(cfg)
	if err != nil {
		return nil, nil, err
	}

	return services, services.Close, nil
}

func parseID(ctx *cli.Context) (htlcdb.ID, error) {
	if !ctx.IsSet("id") {
		return htlcdb.ZeroID, errors.New("id missing")
	}

	return htlcdb.ParseID(ctx.String("id"))
}

func parseHash(text string) (lntypes.Hash, error) {
	if text == "" {
		return lntypes.ZeroHash, errors.New("hashlock missing")
	}

	return lntypes.MakeHashFromStr(text)
}

func parsePreimage(text string) (lntypes.Preimage, error) {
	if text == "" {
		return lntypes.Preimage{}, errors.New("secret missing")
	}

	return lntypes.MakePreimageFromStr(text)
}

func parseAmt(text string) (uint64, error) {
	amt, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amt value")
	}

	return amt, nil
}

func parseHex(text string) ([]byte, error) {
	if len(text) > 1 && text[:2] == "0x" {
		text = text[2:]
	}

	return hex.DecodeString(text)
}

// timelock returns the absolute timelock given by the timelock flag, or the
// expiry flag relative to the ledger time.
func timelock(ctx *cli.Context, l *ledger.Ledger) uint64 {
	if ctx.IsSet("timelock") {
		return ctx.Uint64("timelock")
	}

	return l.Now() + uint64(ctx.Duration("expiry").Seconds())
}
