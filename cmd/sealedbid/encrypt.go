package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/zkinput"
)

var encryptBidCommand = &cli.Command{
	Name:  "encrypt-bid",
	Usage: "Encrypt and prove a bid for one auction, optionally submitting it",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "auction", Usage: "Auction ID", Required: true},
		&cli.StringFlag{Name: "bidder", Usage: "Bidder address", Required: true},
		&cli.StringFlag{Name: "amount", Usage: "Bid amount in ether, e.g. 0.25", Required: true},
		&cli.StringFlag{Name: "zk-dir", Usage: "Directory holding the Groth16 proving key", Value: "zk"},
		&cli.BoolFlag{Name: "submit", Usage: "Submit the bid instead of printing it"},
	},
	Action: encryptBid,
}

func encryptBid(c *cli.Context) error {
	if !common.IsHexAddress(c.String("bidder")) {
		return cli.Exit(fmt.Sprintf("invalid bidder address %q", c.String("bidder")), exitError)
	}
	bidder := common.HexToAddress(c.String("bidder"))
	amount, err := core.ParseEther(c.String("amount"))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	id := c.Uint64("auction")
	api := client(c)

	keys, err := api.keys(c.Context)
	if err != nil {
		return err
	}
	pub, err := enclaveapi.ParseRSAPublicKeyPEM(keys.InputPublicKey)
	if err != nil {
		return errors.Wrap(err, "parse enclave input key")
	}
	binding, err := api.binding(c.Context, id, bidder)
	if err != nil {
		return err
	}
	if !core.MeetsFloor(amount, binding.Floor) {
		return cli.Exit(fmt.Sprintf("amount %s is below the auction minimum %s", core.FormatEther(amount), core.FormatEther(binding.Floor)), exitError)
	}

	prover, verifier, err := zkinput.SetupOrLoad(c.String("zk-dir"))
	if err != nil {
		return errors.Wrap(err, "load proving key")
	}
	vk, err := verifier.MarshalBinary()
	if err != nil {
		return err
	}
	if !bytes.Equal(vk, keys.ZKVerifyingKey) {
		return cli.Exit("proving key does not match the enclave's verifying key", exitError)
	}
	in, err := enclaveapi.EncryptBid(pub, prover, binding, amount)
	if err != nil {
		return err
	}

	if c.Bool("submit") {
		view, err := api.placeBid(c.Context, id, bidder, in)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"auction_id": id,
			"bidder":     bidder.Hex(),
			"bid_count":  view.BidCount,
		}).Info("bid submitted")
		return printJSON(c, view)
	}
	return printJSON(c, bidRequest{Input: in})
}

func printJSON(c *cli.Context, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal output")
	}
	_, err = fmt.Fprintln(c.App.Writer, string(data))
	return err
}
