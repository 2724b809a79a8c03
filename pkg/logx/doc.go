// Package logx configures locatealert's structured logging.
//
// Components log through logx.Logger, a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON, one event per line
//   - An optional ops-chat sink forwards WARN+ events to an operator chat,
//     rate limited so a failing provider cannot flood the channel
package logx
