package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
)

const (
	defaultListenAddr = ":8080"
	defaultCachePath  = "./gainorloss.db"
)

// ScanSource configures one Etherscan-compatible transfer source.
type ScanSource struct {
	Name    string
	BaseURL string
	APIKey  string
}

// Config is the resolved engine configuration.
type Config struct {
	ListenAddr    string
	CachePath     string
	SubgraphURL   string
	PrimaryScan   ScanSource
	SecondaryScan ScanSource
	Reserves      []entity.Reserve
}

type scanSourceTmp struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type reserveTmp struct {
	Symbol     string `yaml:"symbol"`
	Decimals   int32  `yaml:"decimals"`
	Version    string `yaml:"version"`
	Underlying string `yaml:"underlying"`
	AToken     string `yaml:"atoken"`
	DebtToken  string `yaml:"debt_token"`
}

type configTmp struct {
	ListenAddr    string        `yaml:"listen_addr,omitempty"`
	CachePath     string        `yaml:"cache_path,omitempty"`
	SubgraphURL   string        `yaml:"subgraph_url"`
	PrimaryScan   scanSourceTmp `yaml:"primary_scan"`
	SecondaryScan scanSourceTmp `yaml:"secondary_scan,omitempty"`
	Reserves      []reserveTmp  `yaml:"reserves"`
}

// Get reads configuration from the yaml file named by the -config flag.
func Get() (*Config, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()
	return getYaml(*path)
}

func getYaml(path string) (*Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp configTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return nil, err
	}

	conf := &Config{
		ListenAddr:  tmp.ListenAddr,
		CachePath:   tmp.CachePath,
		SubgraphURL: tmp.SubgraphURL,
		PrimaryScan: ScanSource{
			Name:    tmp.PrimaryScan.Name,
			BaseURL: tmp.PrimaryScan.BaseURL,
			APIKey:  tmp.PrimaryScan.APIKey,
		},
		SecondaryScan: ScanSource{
			Name:    tmp.SecondaryScan.Name,
			BaseURL: tmp.SecondaryScan.BaseURL,
			APIKey:  tmp.SecondaryScan.APIKey,
		},
	}
	if conf.ListenAddr == "" {
		conf.ListenAddr = defaultListenAddr
	}
	if conf.CachePath == "" {
		conf.CachePath = defaultCachePath
	}
	if conf.SubgraphURL == "" {
		return nil, fmt.Errorf("'subgraph_url' param is required in yaml config")
	}
	if conf.PrimaryScan.BaseURL == "" {
		return nil, fmt.Errorf("'primary_scan.base_url' param is required in yaml config")
	}
	if conf.PrimaryScan.Name == "" {
		conf.PrimaryScan.Name = "primary"
	}
	if conf.SecondaryScan.BaseURL != "" && conf.SecondaryScan.Name == "" {
		conf.SecondaryScan.Name = "secondary"
	}
	if len(tmp.Reserves) == 0 {
		return nil, fmt.Errorf("at least one reserve must be configured")
	}

	for _, r := range tmp.Reserves {
		reserve, err := parseReserve(r)
		if err != nil {
			return nil, fmt.Errorf("incorrect reserve %q in yaml config: %w", r.Symbol, err)
		}
		conf.Reserves = append(conf.Reserves, reserve)
	}
	return conf, nil
}

func parseReserve(r reserveTmp) (entity.Reserve, error) {
	if r.Symbol == "" {
		return entity.Reserve{}, fmt.Errorf("'symbol' is required")
	}
	version := entity.Version(r.Version)
	if version != entity.VersionV2 && version != entity.VersionV3 {
		return entity.Reserve{}, fmt.Errorf("'version' must be v2 or v3, got %q", r.Version)
	}
	for name, addr := range map[string]string{
		"underlying": r.Underlying,
		"atoken":     r.AToken,
		"debt_token": r.DebtToken,
	} {
		if !common.IsHexAddress(addr) {
			return entity.Reserve{}, fmt.Errorf("'%s' is not a valid address: %q", name, addr)
		}
	}

	return entity.Reserve{
		Symbol:     r.Symbol,
		Decimals:   r.Decimals,
		Version:    version,
		Underlying: common.HexToAddress(r.Underlying),
		AToken:     common.HexToAddress(r.AToken),
		DebtToken:  common.HexToAddress(r.DebtToken),
	}, nil
}
