package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/inkbridge/inkbridge-agent/internal/receiver"
	"github.com/inkbridge/inkbridge-agent/internal/receiver/uhidpen"
	"github.com/inkbridge/inkbridge-agent/internal/transport"
	"github.com/inkbridge/inkbridge-agent/pkg/agent"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "inkbridge"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:      filepath.Join(configDir, "data"),
		BridgeConfig: filepath.Join(configDir, "bridge.yml"),
	}
	agentCmd := &cobra.Command{
		Use:           "inkbridge-agent",
		Short:         "InkBridge Agent",
		Long:          `The InkBridge Agent streams pen input to a host over a USB accessory link or a TCP socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var a *agent.Agent
	agentProvider := func() *agent.Agent {
		return a
	}
	agentCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	agentCmd.PersistentFlags().StringVar(&cfg.BridgeConfig, "config", cfg.BridgeConfig, "bridge config file")
	agentCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}
	agentCmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		if a == nil {
			return nil
		}
		return a.Close()
	}
	agentCmd.AddCommand(NewRun(agentProvider, &cfg))
	agentCmd.AddCommand(NewListAccessories(agentProvider))
	agentCmd.AddCommand(NewHosts(agentProvider))
	agentCmd.AddCommand(NewReceive(agentProvider))
	return agentCmd
}

func NewRun(getAgent agentProvider, cfg *agent.Config) *cobra.Command {
	var (
		transportName  string
		host           string
		port           string
		connectTimeout time.Duration
		swapAxes       bool
		stylusOnly     bool
		inputs         []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the InkBridge Agent",
		Long: `Run streams pen input to the host described by the bridge config file. Flags override
the values of the file, including after it is reloaded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var overrides []agent.Override
			flags := cmd.Flags()
			if flags.Changed("transport") {
				overrides = append(overrides, func(c *agent.BridgeConfig) { c.Transport = transportName })
			}
			if flags.Changed("host") {
				overrides = append(overrides, func(c *agent.BridgeConfig) { c.Host = host })
			}
			if flags.Changed("port") {
				overrides = append(overrides, func(c *agent.BridgeConfig) { c.Port = port })
			}
			if flags.Changed("connect-timeout") {
				overrides = append(overrides, func(c *agent.BridgeConfig) { c.ConnectTimeoutMs = int(connectTimeout.Milliseconds()) })
			}
			if flags.Changed("swap-axes") {
				overrides = append(overrides, func(c *agent.BridgeConfig) { c.SwapAxes = swapAxes })
			}
			if flags.Changed("stylus-only") {
				overrides = append(overrides, func(c *agent.BridgeConfig) { c.StylusOnly = stylusOnly })
			}
			if flags.Changed("input") {
				overrides = append(overrides, func(c *agent.BridgeConfig) { c.Inputs = inputs })
			}
			return getAgent().Run(cmd.Context(), overrides...)
		},
	}
	cmd.Flags().StringVar(&transportName, "transport", "accessory", "transport: accessory (usb) or socket (wifi)")
	cmd.Flags().StringVar(&host, "host", "", "host to connect to; empty selects the last connected host")
	cmd.Flags().StringVar(&port, "port", "9000", "host port")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 5*time.Second, "socket connect timeout")
	cmd.Flags().BoolVar(&swapAxes, "swap-axes", false, "exchange x and y")
	cmd.Flags().BoolVar(&stylusOnly, "stylus-only", false, "drop finger input")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "evdev device nodes to read; default discovers pen devices")
	cmd.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", "", "address to serve prometheus metrics on")
	return cmd
}

type accessoryView struct {
	ID         string `json:"id"`
	Devnode    string `json:"devnode"`
	Name       string `json:"name"`
	Authorized bool   `json:"authorized"`
}

func NewListAccessories(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-accessories",
		Short: "List USB accessories",
		Long:  `List attached USB accessories and whether the agent may open them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager := agent().Accessories()
			accessories, err := manager.Accessories()
			if err != nil {
				return err
			}
			views := make([]accessoryView, 0, len(accessories))
			for _, acc := range accessories {
				views = append(views, accessoryView{
					ID:         acc.ID,
					Devnode:    acc.Devnode,
					Name:       acc.Name,
					Authorized: manager.HasPermission(acc),
				})
			}
			return printJSON(cmd, views)
		},
	}
}

func NewHosts(agent agentProvider) *cobra.Command {
	var forget string
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List known hosts",
		Long:  `List hosts that socket sessions connected to, most recent first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := agent().Hosts()
			if forget != "" {
				host, port, err := net.SplitHostPort(forget)
				if err != nil {
					return fmt.Errorf("invalid host %q: %w", forget, err)
				}
				target, err := transport.ParseSocketConfig(host, port)
				if err != nil {
					return err
				}
				return store.Forget(target)
			}
			hosts, err := store.List()
			if err != nil {
				return err
			}
			return printJSON(cmd, hosts)
		},
	}
	cmd.Flags().StringVar(&forget, "forget", "", "remove host:port from the history")
	return cmd
}

func NewReceive(agent agentProvider) *cobra.Command {
	var (
		listen string
		cfg    = uhidpen.Config{
			Name:      "inkbridge-pen",
			VendorID:  0x1209,
			ProductID: 0x1b1d,
			Mapper:    uhidpen.Mapper{Width: uhidpen.AxisMax, Height: uhidpen.AxisMax, Sensitivity: 1},
		}
	)
	cmd := &cobra.Command{
		Use:   "receive",
		Short: "Receive frames as a virtual pen",
		Long:  `Receive accepts one streaming client over TCP and replays its frames on a virtual HID pen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := agent().Logger().Named("receiver")
			pen, err := uhidpen.Open(log.Named("pen"), cfg)
			if err != nil {
				return err
			}
			defer pen.Close()
			return receiver.NewServer(log, listen, pen).Start(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":9000", "address to listen on")
	cmd.Flags().Int32Var(&cfg.Mapper.Width, "width", cfg.Mapper.Width, "x range of incoming frames")
	cmd.Flags().Int32Var(&cfg.Mapper.Height, "height", cfg.Mapper.Height, "y range of incoming frames")
	cmd.Flags().Float64Var(&cfg.Mapper.MinPressure, "min-pressure", 0, "fraction of full pressure ignored as resting contact (0..1)")
	cmd.Flags().Float64Var(&cfg.Mapper.Sensitivity, "sensitivity", 1, "pressure curve; above 1 reaches full pressure sooner")
	cmd.Flags().StringVar(&cfg.Name, "name", cfg.Name, "virtual device name")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	jsonB, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
	return err
}
