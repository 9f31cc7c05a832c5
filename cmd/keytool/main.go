package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/spacelock/membership-security-backend/keymaterial"
)

// keytool manages the operator lifecycle of the global system key:
// splitting it into recovery shares and reconstructing it from a
// threshold of shares. It is an offline tool; nothing here talks to the
// running service.
func main() {
	app := &cli.App{
		Name:  "keytool",
		Usage: "Split and recover the system key via Shamir secret sharing",
		Commands: []*cli.Command{
			{
				Name:  "split",
				Usage: "split a system key into operator shares",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "key",
						Required: true,
						Usage:    "hex-encoded system key (at least 32 bytes)",
					},
					&cli.IntFlag{
						Name:  "shares",
						Value: 5,
						Usage: "number of shares to generate",
					},
					&cli.IntFlag{
						Name:  "threshold",
						Value: 3,
						Usage: "shares required to reconstruct the key",
					},
				},
				Action: splitKey,
			},
			{
				Name:  "combine",
				Usage: "reconstruct a system key from operator shares",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "share",
						Required: true,
						Usage:    "hex-encoded share; repeat for each share",
					},
				},
				Action: combineKey,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func splitKey(cCtx *cli.Context) error {
	key, err := hex.DecodeString(cCtx.String("key"))
	if err != nil {
		return errors.New("key must be hex encoded")
	}

	shares, err := keymaterial.SplitSystemKey(key, cCtx.Int("shares"), cCtx.Int("threshold"))
	if err != nil {
		return err
	}

	for i, share := range shares {
		fmt.Printf("share %d: %s\n", i+1, hex.EncodeToString(share))
	}
	return nil
}

func combineKey(cCtx *cli.Context) error {
	var shares [][]byte
	for _, encoded := range cCtx.StringSlice("share") {
		share, err := hex.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("share %q is not hex encoded", encoded)
		}
		shares = append(shares, share)
	}

	key, err := keymaterial.CombineSystemKey(shares)
	if err != nil {
		return err
	}

	fmt.Printf("system key: %s\n", hex.EncodeToString(key))
	return nil
}
