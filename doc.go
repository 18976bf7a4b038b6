// Package trust is the trust core of a multi tenant tracking application:
// opaque store backed sessions, signed invitation tokens and per request
// resource ownership checks.
//
// Sessions:
//   - CredentialAuthenticator checks email and password pairs with bcrypt and
//     writes a Session to a SessionStore under a random 64 character id. The
//     store owns expiry; a session exists iff it is valid.
//   - SessionGate is fiber middleware resolving the session cookie into a
//     Principal, stored in the fiber locals and the request context. Every
//     rejection, store outages included, is ErrAuthenticationRequired.
//   - The role is captured when the session is created. A role change takes
//     effect at the next sign in or when the session expires.
//
// Invitations:
//   - TokenSigner signs invitation ids with HMAC-SHA256. Tokens are
//     "<id>.<signature>" and verify without a store lookup.
//   - InvitationIssuer persists invitations through an InvitationStore, mails
//     registration links and redeems tokens. Bad signature, unknown, used and
//     expired invitations are all ErrInvitationInvalid to callers.
//
// Authorization:
//   - OwnershipGuard checks a Principal against the owner returned by an
//     OwnerLoader. One guard serves every resource kind.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter. Sinks run best-effort
//     (errors are logged) so you can forward to a database or queue without
//     blocking authentication.
package trust
