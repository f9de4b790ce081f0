// Package web3 defines the network client contract used by the deployment
// layer together with the YAML network definitions that name each chain.
package web3
