package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/cloudx-io/sealedbid/core"
	"github.com/cloudx-io/sealedbid/enclaveapi"
	"github.com/cloudx-io/sealedbid/validation"
)

var pcrsFlag = &cli.StringFlag{
	Name:  "pcrs",
	Usage: "JSON file of known-good PCR sets ({\"pcr_sets\": [...]})",
}

var validateSettlementCommand = &cli.Command{
	Name:  "validate-settlement",
	Usage: "Re-verify a settled auction against the oracle's signed decryption result",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "auction", Usage: "Auction ID", Required: true},
		&cli.StringFlag{Name: "oracle-key", Usage: "Oracle public key PEM (file or inline); fetched from the daemon when unset"},
		&cli.StringFlag{Name: "attestation", Usage: "Base64 oracle attestation to check instead of the one the daemon stores"},
		pcrsFlag,
		formatFlag,
	},
	Action: validateSettlement,
}

var validateKeyCommand = &cli.Command{
	Name:  "validate-key",
	Usage: "Verify the enclave's published keys against its Nitro attestation",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "keys", Usage: "Key response JSON (file or inline); fetched from the daemon when unset"},
		&cli.StringFlag{Name: "pcrs", Usage: pcrsFlag.Usage, Required: true},
		formatFlag,
	},
	Action: validateKey,
}

func loadTrust(path string) (validation.Trust, error) {
	sets, err := validation.LoadPCRsFromFile(path)
	if err != nil {
		return validation.Trust{}, err
	}
	return validation.Trust{PCRSets: sets}, nil
}

// settlementInput pairs a published auction with the request that settled it.
func settlementInput(view core.AuctionView, req core.DecryptionRequest, oraclePEM string) (*validation.SettlementValidationInput, error) {
	if view.State != core.StateSettled {
		return nil, errors.Errorf("auction %d is %s, not settled", view.ID, view.State)
	}
	if view.SettledRequest == 0 {
		return nil, errors.Errorf("auction %d settled without an oracle attestation", view.ID)
	}
	if req.ID != view.SettledRequest || req.AuctionID != view.ID {
		return nil, errors.Errorf("request %d does not belong to auction %d", req.ID, view.ID)
	}
	return &validation.SettlementValidationInput{
		OraclePublicKey: oraclePEM,
		Attestation:     enclaveapi.AttestationCOSE(req.Attestation),
		AuctionID:       view.ID,
		RequestID:       req.ID,
		Winner:          view.Winner,
		WinningAmount:   view.WinningAmount,
	}, nil
}

func validateSettlement(c *cli.Context) error {
	api := client(c)
	id := c.Uint64("auction")

	oraclePEM := ""
	if v := c.String("oracle-key"); v != "" {
		oraclePEM = string(readInput(v))
	} else {
		keys, err := api.keys(c.Context)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}
		if path := c.String(pcrsFlag.Name); path != "" {
			trust, err := loadTrust(path)
			if err != nil {
				return cli.Exit(err.Error(), exitError)
			}
			kr, err := validation.ValidateKeyAttestation(keys, trust)
			if err != nil {
				return cli.Exit(err.Error(), exitError)
			}
			if !kr.IsValid() {
				_ = outputKey(c.App.Writer, c.String(formatFlag.Name), kr)
				return cli.Exit("", exitInvalid)
			}
		} else {
			logrus.Warn("oracle key taken from the daemon without attestation; pass --pcrs to verify it")
		}
		oraclePEM = keys.OraclePublicKey
	}

	view, err := api.auction(c.Context, id)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	var req core.DecryptionRequest
	if view.SettledRequest != 0 {
		if req, err = api.request(c.Context, view.SettledRequest); err != nil {
			return cli.Exit(err.Error(), exitError)
		}
	}
	input, err := settlementInput(view, req, oraclePEM)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	if v := c.String("attestation"); v != "" {
		if input.Attestation, err = enclaveapi.AttestationCOSEBase64(v).Decode(); err != nil {
			return cli.Exit(err.Error(), exitError)
		}
	}

	result, err := validation.ValidateSettlementAttestation(input)
	if err != nil {
		return cli.Exit(fmt.Sprintf("validation error: %v", err), exitError)
	}
	if err := outputSettlement(c.App.Writer, c.String(formatFlag.Name), input, result); err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	if !result.IsValid() {
		return cli.Exit("", exitInvalid)
	}
	return nil
}

func validateKey(c *cli.Context) error {
	trust, err := loadTrust(c.String("pcrs"))
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	var keys *enclaveapi.KeyResponse
	if v := c.String("keys"); v != "" {
		keys = &enclaveapi.KeyResponse{}
		if err := json.Unmarshal(readInput(v), keys); err != nil {
			return cli.Exit(fmt.Sprintf("parse key response: %v", err), exitError)
		}
	} else if keys, err = client(c).keys(c.Context); err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	result, err := validation.ValidateKeyAttestation(keys, trust)
	if err != nil {
		return cli.Exit(fmt.Sprintf("validation error: %v", err), exitError)
	}
	if err := outputKey(c.App.Writer, c.String(formatFlag.Name), result); err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	if !result.IsValid() {
		return cli.Exit("", exitInvalid)
	}
	return nil
}

func verdict(w io.Writer, valid bool) {
	if valid {
		fmt.Fprintln(w, "VALIDATION: ✓ PASSED")
		fmt.Fprintln(w, "Exit Code: 0")
	} else {
		fmt.Fprintln(w, "VALIDATION: ✗ FAILED")
		fmt.Fprintln(w, "Exit Code: 1")
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal output")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func outputSettlement(w io.Writer, format string, input *validation.SettlementValidationInput, result *validation.SettlementValidationResult) error {
	if format == "json" {
		return writeJSON(w, map[string]any{
			"valid":           result.IsValid(),
			"attestation":     input.Attestation.EncodeBase64(),
			"auction_id":      input.AuctionID,
			"request_id":      input.RequestID,
			"winner":          input.Winner.Hex(),
			"winning_amount":  core.FormatEther(input.WinningAmount),
			"signature_valid": result.SignatureValid,
			"auction_match":   result.AuctionMatch,
			"request_match":   result.RequestMatch,
			"winner_match":    result.WinnerMatch,
			"amount_match":    result.AmountMatch,
			"details":         result.ValidationDetails,
		})
	}

	fmt.Fprintln(w, "Sealed-Bid Settlement Validator")
	fmt.Fprintln(w, "===============================")
	fmt.Fprintf(w, "  Auction:         %d\n", input.AuctionID)
	fmt.Fprintf(w, "  Request:         %d\n", input.RequestID)
	fmt.Fprintf(w, "  Winner:          %s\n", input.Winner.Hex())
	fmt.Fprintf(w, "  Winning Amount:  %s ETH\n", core.FormatEther(input.WinningAmount))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  Signature Valid: %v\n", result.SignatureValid)
	fmt.Fprintf(w, "  Auction Match:   %v\n", result.AuctionMatch)
	fmt.Fprintf(w, "  Request Match:   %v\n", result.RequestMatch)
	fmt.Fprintf(w, "  Winner Match:    %v\n", result.WinnerMatch)
	fmt.Fprintf(w, "  Amount Match:    %v\n", result.AmountMatch)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", detail)
	}
	fmt.Fprintln(w, "===============================")
	verdict(w, result.IsValid())
	return nil
}

func outputKey(w io.Writer, format string, result *validation.KeyValidationResult) error {
	if format == "json" {
		return writeJSON(w, map[string]any{
			"valid":             result.IsValid(),
			"module_id":         result.ModuleID,
			"pcrs_valid":        result.PCRsValid,
			"certificate_valid": result.CertificateValid,
			"signature_valid":   result.SignatureValid,
			"input_key_match":   result.InputKeyMatch,
			"oracle_key_match":  result.OracleKeyMatch,
			"details":           result.ValidationDetails,
		})
	}

	fmt.Fprintln(w, "Enclave Key Attestation Validator")
	fmt.Fprintln(w, "=================================")
	fmt.Fprintf(w, "  Module:            %s\n", result.ModuleID)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Summary:")
	fmt.Fprintf(w, "  PCRs Valid:        %v\n", result.PCRsValid)
	fmt.Fprintf(w, "  Certificate Valid: %v\n", result.CertificateValid)
	fmt.Fprintf(w, "  Signature Valid:   %v\n", result.SignatureValid)
	fmt.Fprintf(w, "  Input Key Match:   %v\n", result.InputKeyMatch)
	fmt.Fprintf(w, "  Oracle Key Match:  %v\n", result.OracleKeyMatch)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Fprintf(w, "  - %s\n", detail)
	}
	fmt.Fprintln(w, "=================================")
	verdict(w, result.IsValid())
	return nil
}
