package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

// Method names on the carbon trading contract.
const (
	MethodCreateOrder     = "createOrder"
	MethodMatchOrders     = "matchOrders"
	MethodGetOrderInfo    = "getOrderInfo"
	MethodGetPositionInfo = "getPositionInfo"
	MethodGetMarketData   = "getMarketData"
)

// GetCarbonTradingABI returns the ABI of the confidential carbon trading contract.
// The uint8 view outputs are encrypted handles, not plaintext values.
func GetCarbonTradingABI() (*abi.ABI, error) {
	return ParseABI(`[
		{
			"inputs": [
				{"name": "_symbol", "type": "string"},
				{"name": "_quantity", "type": "bytes"},
				{"name": "_price", "type": "bytes"},
				{"name": "_orderType", "type": "bytes"},
				{"name": "inputProof", "type": "bytes"}
			],
			"name": "createOrder",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "buyOrderId", "type": "uint256"},
				{"name": "sellOrderId", "type": "uint256"},
				{"name": "_quantity", "type": "bytes"},
				{"name": "inputProof", "type": "bytes"}
			],
			"name": "matchOrders",
			"outputs": [],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [{"name": "orderId", "type": "uint256"}],
			"name": "getOrderInfo",
			"outputs": [
				{"name": "quantity", "type": "uint8"},
				{"name": "price", "type": "uint8"},
				{"name": "orderType", "type": "uint8"},
				{"name": "isActive", "type": "bool"},
				{"name": "trader", "type": "address"},
				{"name": "timestamp", "type": "uint256"},
				{"name": "symbol", "type": "string"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "trader", "type": "address"},
				{"name": "symbol", "type": "string"}
			],
			"name": "getPositionInfo",
			"outputs": [
				{"name": "quantity", "type": "uint8"},
				{"name": "averagePrice", "type": "uint8"},
				{"name": "unrealizedPnL", "type": "uint8"},
				{"name": "lastUpdated", "type": "uint256"}
			],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [{"name": "symbol", "type": "string"}],
			"name": "getMarketData",
			"outputs": [
				{"name": "currentPrice", "type": "uint8"},
				{"name": "volume24h", "type": "uint8"},
				{"name": "openInterest", "type": "uint8"},
				{"name": "lastUpdate", "type": "uint256"}
			],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
}
