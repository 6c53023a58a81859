package service

import (
	_ "embed"
	"strings"

	"github.com/xueqianLu/ethcontract/pkg/abi"
)

//go:embed contracts/ERC20Test.abi.json
var erc20ABIJSON []byte

//go:embed contracts/ERC20Test.bin
var erc20Bin string

//go:embed contracts/SimpleStorage.abi.json
var storageABIJSON []byte

//go:embed contracts/SimpleStorage.bin
var storageBin string

const (
	ERC20Name   = "erc20"
	StorageName = "storage"
)

func ERC20ABI() *abi.ABI { return abi.MustParseJSON(erc20ABIJSON) }

func ERC20Bytecode() string { return strings.TrimSpace(erc20Bin) }

func StorageABI() *abi.ABI { return abi.MustParseJSON(storageABIJSON) }

func StorageBytecode() string { return strings.TrimSpace(storageBin) }
