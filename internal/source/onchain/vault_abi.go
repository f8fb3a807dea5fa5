package onchain

// vaultABI is the subset of the vault's view functions the reader calls.
const vaultABI = `[
	{"type":"function","name":"currentEpoch","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"isPut","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getUnderlyingPrice","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getEpochTimes","stateMutability":"view","inputs":[{"name":"epoch","type":"uint256"}],"outputs":[{"name":"start","type":"uint256"},{"name":"end","type":"uint256"}]},
	{"type":"function","name":"getEpochStrikes","stateMutability":"view","inputs":[{"name":"epoch","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"getEpochCollateralExchangeRate","stateMutability":"view","inputs":[{"name":"epoch","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getEpochSettlementPrice","stateMutability":"view","inputs":[{"name":"epoch","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getEpochStrikeData","stateMutability":"view","inputs":[{"name":"epoch","type":"uint256"},{"name":"strike","type":"uint256"}],"outputs":[{"name":"totalCollateral","type":"uint256"},{"name":"activeCollateral","type":"uint256"},{"name":"totalPremiums","type":"uint256"}]},
	{"type":"function","name":"calculatePremium","stateMutability":"view","inputs":[{"name":"strike","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"expiry","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"calculatePurchaseFees","stateMutability":"view","inputs":[{"name":"strike","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getVolatility","stateMutability":"view","inputs":[{"name":"strike","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}
]`
