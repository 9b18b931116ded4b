// Command sign-request signs an API request with EIP-712 and prints the
// JSON body to POST.
package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/tickorders/pkg/api"
	"github.com/uhyunpark/tickorders/pkg/crypto"
	"github.com/uhyunpark/tickorders/pkg/limitorder"
)

func main() {
	NewCLI().Run()
}

// CLI is the Cobra-based command-line interface.
type CLI struct {
	root *cobra.Command

	key       string
	chainID   int64
	nonce     uint64
	typedData bool
}

func NewCLI() *CLI {
	cli := &CLI{}
	cli.root = &cobra.Command{
		Use:           "sign-request",
		Short:         "Sign tickorders API requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cli.root.PersistentFlags()
	flags.StringVarP(&cli.key, "key", "k", "", "hex private key (a new one is generated when empty)")
	flags.Int64Var(&cli.chainID, "chain-id", crypto.DefaultDomain().ChainID.Int64(), "chain id of the signing domain")
	flags.Uint64VarP(&cli.nonce, "nonce", "n", 1, "request nonce, greater than the account's last one")
	flags.BoolVar(&cli.typedData, "typed-data", false, "also print the eth_signTypedData_v4 payload to stderr")

	cli.root.AddCommand(cli.placeCmd(), cli.claimCmd(), cli.treasuryCmd(), cli.swapCmd())
	return cli
}

func (cli *CLI) Run() {
	if err := cli.root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (cli *CLI) signer() (*crypto.Signer, error) {
	if cli.key == "" {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Generated key for %s: %s (KEEP SECRET!)\n", s.Address().Hex(), s.PrivateKeyHex())
		return s, nil
	}
	return crypto.FromPrivateKeyHex(cli.key)
}

// sign signs r, checks the signature recovers to its owner and returns it
// hex-encoded.
func (cli *CLI) sign(key *crypto.Signer, r crypto.Request) (string, error) {
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cli.chainID)
	es := crypto.NewEIP712Signer(domain)

	if cli.typedData {
		td, err := es.JSON(r)
		if err != nil {
			return "", err
		}
		fmt.Fprintln(os.Stderr, td)
	}
	sig, err := es.Sign(key, r)
	if err != nil {
		return "", err
	}
	if err := es.Verify(r, sig); err != nil {
		return "", fmt.Errorf("self-check: %w", err)
	}
	return hexutil.Encode(sig), nil
}

func printBody(path string, body any) error {
	b, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "POST /api/v1%s\n", path)
	fmt.Println(string(b))
	return nil
}

func parseInt(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", field, s)
	}
	return v, nil
}

func (cli *CLI) placeCmd() *cobra.Command {
	var symbol, direction, price, amount string
	var isRange bool
	cmd := &cobra.Command{
		Use:   "place",
		Short: "Sign a limit order placement",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := limitorder.ParseDirection(direction)
			if err != nil {
				return err
			}
			amt, err := parseInt("amount", amount)
			if err != nil {
				return err
			}
			key, err := cli.signer()
			if err != nil {
				return err
			}
			req := crypto.PlaceOrderRequest{
				Symbol:    symbol,
				Direction: uint8(dir),
				Price:     price,
				Amount:    amt,
				Nonce:     cli.nonce,
				Owner:     key.Address(),
			}
			if isRange {
				req.IsRange = 1
			}
			sig, err := cli.sign(key, req)
			if err != nil {
				return err
			}
			return printBody("/orders", api.PlaceOrderBody{
				Symbol:    req.Symbol,
				Direction: req.Direction,
				IsRange:   req.IsRange,
				Price:     req.Price,
				Amount:    amt.String(),
				Nonce:     req.Nonce,
				Owner:     req.Owner.Hex(),
				Signature: sig,
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&symbol, "symbol", "s", "WETH-USDC", "market symbol")
	f.StringVarP(&direction, "direction", "d", "sell0", "sell0 or sell1")
	f.BoolVar(&isRange, "range", false, "spread the order from the current price to the target instead of one band")
	f.StringVarP(&price, "price", "p", "", "target price, currency1 per currency0")
	f.StringVarP(&amount, "amount", "a", "", "amount of the sold currency in base units")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (cli *CLI) claimCmd() *cobra.Command {
	var symbol string
	var orderID uint64
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Sign a claim of a filled order",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cli.signer()
			if err != nil {
				return err
			}
			req := crypto.ClaimRequest{OrderID: orderID, Symbol: symbol, Nonce: cli.nonce, Owner: key.Address()}
			sig, err := cli.sign(key, req)
			if err != nil {
				return err
			}
			return printBody("/orders/claim", api.ClaimBody{
				OrderID:   orderID,
				Symbol:    symbol,
				Nonce:     req.Nonce,
				Owner:     req.Owner.Hex(),
				Signature: sig,
			})
		},
	}
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "WETH-USDC", "market symbol")
	cmd.Flags().Uint64VarP(&orderID, "order", "o", 0, "order id")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func (cli *CLI) treasuryCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "treasury",
		Short: "Sign a treasury handover (the key must be the current treasury)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(to) {
				return fmt.Errorf("invalid treasury address %q", to)
			}
			key, err := cli.signer()
			if err != nil {
				return err
			}
			req := crypto.SetTreasuryRequest{Treasury: common.HexToAddress(to), Nonce: cli.nonce, Owner: key.Address()}
			sig, err := cli.sign(key, req)
			if err != nil {
				return err
			}
			return printBody("/treasury", api.SetTreasuryBody{
				Treasury:  req.Treasury.Hex(),
				Nonce:     req.Nonce,
				Owner:     req.Owner.Hex(),
				Signature: sig,
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "new treasury address")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func (cli *CLI) swapCmd() *cobra.Command {
	var symbol, amountIn, limit string
	var zeroForOne bool
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Sign an exact-input swap",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := parseInt("amount-in", amountIn)
			if err != nil {
				return err
			}
			lim := new(big.Int)
			if limit != "" {
				if lim, err = parseInt("limit", limit); err != nil {
					return err
				}
			}
			key, err := cli.signer()
			if err != nil {
				return err
			}
			req := crypto.SwapRequest{
				Symbol:            symbol,
				AmountIn:          in,
				SqrtPriceLimitX96: lim,
				Nonce:             cli.nonce,
				Owner:             key.Address(),
			}
			if zeroForOne {
				req.ZeroForOne = 1
			}
			sig, err := cli.sign(key, req)
			if err != nil {
				return err
			}
			body := api.SwapBody{
				Symbol:     symbol,
				ZeroForOne: req.ZeroForOne,
				AmountIn:   in.String(),
				Nonce:      req.Nonce,
				Owner:      req.Owner.Hex(),
				Signature:  sig,
			}
			if lim.Sign() != 0 {
				body.SqrtPriceLimitX96 = lim.String()
			}
			return printBody("/swaps", body)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&symbol, "symbol", "s", "WETH-USDC", "market symbol")
	f.BoolVar(&zeroForOne, "zero-for-one", false, "sell currency0 (price falls)")
	f.StringVarP(&amountIn, "amount-in", "a", "", "input amount in base units")
	f.StringVar(&limit, "limit", "", "sqrtPriceX96 limit (none when empty)")
	_ = cmd.MarkFlagRequired("amount-in")
	return cmd
}
