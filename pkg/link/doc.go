// Package link implements a nine-line parallel handshake link.
//
// Eight data lines carry one byte, most significant bit on line 1.
// The ninth line is the acknowledgment line, driven by the receiver
// with short pulses. There is no clock line: the sender holds a symbol
// until the receiver pulses the acknowledgment line, so a stalled
// receiver blocks the sender.
//
// Ownership is asymmetric: data lines are written by the sender only,
// the acknowledgment line by the receiver only.
//
// Two variants are supported. SingleAck acknowledges every byte once
// and never clears the data lines; consecutive identical bytes cannot be
// told apart. DoubleAck clears the data lines after each acknowledged
// byte and waits for a second acknowledgment of the all-zero clear
// symbol. In both variants a zero byte is indistinguishable from the
// clear symbol and is never acknowledged.
package link
