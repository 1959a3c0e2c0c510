package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
	pkgdynamo "github.com/yashrajoria/marketplace/pkg/dynamodb"
	"github.com/yashrajoria/marketplace/pkg/messaging/rabbitmq"
	"github.com/yashrajoria/marketplace/services/common/auth"
	"github.com/yashrajoria/marketplace/services/common/httpclient"
)

// deadLetterReplayer moves a queue's dead letters back onto the exchange.
type deadLetterReplayer interface {
	ReplayDeadLetters(ctx context.Context, queue string, limit int) (int, error)
	Close() error
}

type app struct {
	v   *viper.Viper
	out io.Writer

	newReplayer func(cfg rabbitmq.Config, logger *zap.Logger) (deadLetterReplayer, error)
	newTableAPI func(ctx context.Context) (pkgdynamo.TableAPI, error)
}

func newApp(out io.Writer) *app {
	v := viper.New()
	v.SetEnvPrefix("SAGACTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return &app{
		v:   v,
		out: out,
		newReplayer: func(cfg rabbitmq.Config, logger *zap.Logger) (deadLetterReplayer, error) {
			return rabbitmq.New(cfg, logger)
		},
		newTableAPI: func(ctx context.Context) (pkgdynamo.TableAPI, error) {
			cfg, err := awspkg.LoadAWSConfig(ctx)
			if err != nil {
				return nil, err
			}
			return pkgdynamo.NewClientFromConfig(cfg), nil
		},
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sagactl",
		Short:         "Operate the marketplace checkout saga",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("order-url", "http://localhost:8083", "order-service base URL")
	flags.String("payment-url", "http://localhost:8087", "payment-service base URL")
	flags.String("user-id", "sagactl", "identity sent as X-User-ID")
	flags.String("role", auth.AdminRole, "role sent as X-User-Role")
	flags.Duration("timeout", 30*time.Second, "timeout for each command")
	flags.Bool("verbose", false, "log broker and AWS activity")
	_ = a.v.BindPFlags(flags)

	root.AddCommand(a.reconcileCmd())
	root.AddCommand(a.dlqCmd())
	root.AddCommand(a.dynamoCmd())
	root.AddCommand(a.orderCmd())
	root.AddCommand(a.paymentCmd())
	return root
}

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.v.GetDuration("timeout"))
}

func (a *app) client(urlKey string) *httpclient.Client {
	return httpclient.New(a.v.GetString(urlKey), httpclient.Identity{
		UserID: a.v.GetString("user-id"),
		Role:   a.v.GetString("role"),
	})
}

func (a *app) logger() *zap.Logger {
	if !a.v.GetBool("verbose") {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (a *app) print(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}
