package ledger

// Cadence sources submitted through the chain gateway. Contract
// addresses are the Flow testnet deployments of FungibleToken and
// FlowToken.

const transferTokensTx = `
import FungibleToken from 0x9a0766d93b6608b7
import FlowToken from 0x7e60df042a9c0868

transaction(amount: UFix64, to: Address) {
    let sentVault: @{FungibleToken.Vault}

    prepare(signer: auth(BorrowValue) &Account) {
        let vaultRef = signer.storage.borrow<auth(FungibleToken.Withdraw) &FlowToken.Vault>(
            from: /storage/flowTokenVault
        ) ?? panic("Could not borrow reference to the owner's Vault")

        self.sentVault <- vaultRef.withdraw(amount: amount)
    }

    execute {
        let recipient = getAccount(to)
        let receiverRef = recipient.capabilities
            .borrow<&{FungibleToken.Receiver}>(/public/flowTokenReceiver)
            ?? panic("Could not borrow receiver reference")

        receiverRef.deposit(from: <- self.sentVault)
    }
}
`

const createAccountTx = `
import Crypto

transaction(publicKey: String) {
    prepare(signer: auth(BorrowValue, Storage) &Account) {
        let key = PublicKey(
            publicKey: publicKey.decodeHex(),
            signatureAlgorithm: SignatureAlgorithm.ECDSA_P256
        )

        let account = Account(payer: signer)

        account.keys.add(
            publicKey: key,
            hashAlgorithm: HashAlgorithm.SHA3_256,
            weight: 1000.0
        )
    }
}
`

// setupVaultTx initializes the settlement-token vault and receiver
// capability on a freshly created account so it can accept deposits.
const setupVaultTx = `
import FungibleToken from 0x9a0766d93b6608b7
import FlowToken from 0x7e60df042a9c0868

transaction {
    prepare(signer: auth(BorrowValue, Storage, Capabilities) &Account) {
        if signer.storage.borrow<&FlowToken.Vault>(from: /storage/flowTokenVault) != nil {
            return
        }

        signer.storage.save(
            <- FlowToken.createEmptyVault(vaultType: Type<@FlowToken.Vault>()),
            to: /storage/flowTokenVault
        )

        let receiverCap = signer.capabilities.storage.issue<&{FungibleToken.Receiver}>(
            /storage/flowTokenVault
        )
        signer.capabilities.publish(receiverCap, at: /public/flowTokenReceiver)
    }
}
`

// Event types scanned for the best-effort transaction history.
const (
	eventTokensWithdrawn = "A.7e60df042a9c0868.FlowToken.TokensWithdrawn"
	eventTokensDeposited = "A.7e60df042a9c0868.FlowToken.TokensDeposited"
	eventAccountCreated  = "flow.AccountCreated"
)
