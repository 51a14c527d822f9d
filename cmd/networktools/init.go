package main

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"networktools/pkg/controller"
	"networktools/pkg/model"
	"networktools/pkg/store"
)

var initDBPath string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Provision this node's local key and settings, then join the cluster",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initDBPath, "db", "d", "", "path to the node's persistent store file")
	initCmd.MarkFlagRequired("db")
}

func runInit(cmd *cobra.Command, args []string) error {
	loadDotEnv()

	reader := bufio.NewReader(cmd.InOrStdin())
	namespace, err := promptRequired(reader, cmd, "Linux network namespace name (e.g. netA): ")
	if err != nil {
		return err
	}
	ethName, err := promptRequired(reader, cmd, "Host uplink interface (e.g. eth0): ")
	if err != nil {
		return err
	}
	domainPrefix, err := promptRequired(reader, cmd, "Controller base URL (e.g. https://controller.example.com): ")
	if err != nil {
		return err
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate node keypair: %w", err)
	}
	privPEM, err := controller.EncodePrivateKeyPEM(priv)
	if err != nil {
		return err
	}

	s, err := store.Open(initDBPath)
	if err != nil {
		return fmt.Errorf("open store %s: %w", initDBPath, err)
	}

	if err := s.SetNodeSettings(model.NodeSettings{
		Namespace:    namespace,
		EthName:      ethName,
		PrivateKey:   privPEM,
		DomainPrefix: domainPrefix,
	}); err != nil {
		return fmt.Errorf("persist node settings: %w", err)
	}

	client := controller.New(domainPrefix, priv)
	nodeID, err := client.Join()
	if err != nil {
		return fmt.Errorf("join cluster: %w", err)
	}
	if err := s.SetNodeSettings(model.NodeSettings{NodeID: nodeID}); err != nil {
		return fmt.Errorf("persist assigned node id: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "joined cluster as node %d (public key %x)\n", nodeID, pub)
	return nil
}

func promptRequired(reader *bufio.Reader, cmd *cobra.Command, prompt string) (string, error) {
	for {
		fmt.Fprint(cmd.OutOrStdout(), prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		value := strings.TrimSpace(line)
		if value != "" {
			return value, nil
		}
	}
}
